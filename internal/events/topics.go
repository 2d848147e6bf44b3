package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated        = "order.created"
	TopicOrderPaid           = "order.paid"
	TopicOrderPendingPay     = "order.pending_payment"
	TopicOrderCanceled       = "order.canceled"
	TopicPaymentFailed       = "payment.failed"
	TopicPaymentMismatch     = "payment.mismatch"
	TopicReviewCreated       = "review.created"
	TopicReviewReported      = "review.reported"
	TopicProductRatingSynced = "product.rating_synced"
)

// OrderPayload is the payload of every order.* and payment.* topic.
type OrderPayload struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	Email         string `json:"email"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ReviewPayload is the payload of review.* topics.
type ReviewPayload struct {
	ReviewID  string `json:"reviewId"`
	ProductID string `json:"productId"`
	UserID    string `json:"userId"`
	Rating    int    `json:"rating"`
	Reason    string `json:"reason,omitempty"`
}

// RatingPayload is the payload of product.rating_synced.
type RatingPayload struct {
	ProductID  string  `json:"productId"`
	Rating     float64 `json:"rating"`
	NumReviews int     `json:"numReviews"`
}
