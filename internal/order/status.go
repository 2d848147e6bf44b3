package order

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPendingPayment Status = "pending_payment"
	StatusProcessing     Status = "processing"
	StatusPaid           Status = "paid"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// PaymentStatus is the settlement state of an order's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

var validNext = map[Status][]Status{
	StatusPending:        {StatusProcessing, StatusPendingPayment, StatusPaid, StatusCancelled, StatusFailed},
	StatusPendingPayment: {StatusProcessing, StatusPaid, StatusCancelled, StatusFailed},
	StatusProcessing:     {StatusPaid, StatusShipped, StatusCancelled, StatusFailed},
	StatusPaid:           {StatusShipped, StatusCancelled, StatusFailed},
	StatusShipped:        {StatusDelivered, StatusCancelled, StatusFailed},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusFailed:         {},
}

var validPaymentNext = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentSucceeded, PaymentFailed},
	PaymentFailed:    {PaymentSucceeded},
	PaymentSucceeded: {PaymentRefunded},
	PaymentRefunded:  {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether from -> to is a legal payment move.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range validPaymentNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Cancellable lists the states a customer may still cancel from.
func Cancellable(s Status) bool {
	return s == StatusPending || s == StatusPendingPayment
}
