package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-core/internal/common"
)

// GuestOwner is reported as the owner of orders placed without an account.
const GuestOwner = "guest"

// Item is the immutable snapshot of a cart line taken at order time.
type Item struct {
	ProductID string          `json:"productId" bson:"productId"`
	Name      string          `json:"name" bson:"name"`
	UnitPrice decimal.Decimal `json:"price" bson:"price"`
	Quantity  int             `json:"quantity" bson:"quantity"`
	Size      string          `json:"size,omitempty" bson:"size,omitempty"`
	Image     string          `json:"image,omitempty" bson:"image,omitempty"`
}

// Address is a postal address.
type Address struct {
	FullName   string `json:"fullName" bson:"fullName" validate:"required,max=120"`
	Line1      string `json:"line1" bson:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" bson:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" bson:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postalCode" bson:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" bson:"country" validate:"required,min=2,max=3"`
	Phone      string `json:"phone,omitempty" bson:"phone,omitempty" validate:"max=32"`
}

// BankTransfer holds the details a payer needs to settle by wire.
type BankTransfer struct {
	Reference     string `json:"reference" bson:"reference"`
	BankName      string `json:"bankName" bson:"bankName"`
	AccountName   string `json:"accountName" bson:"accountName"`
	AccountNumber string `json:"accountNumber" bson:"accountNumber"`
	RoutingNumber string `json:"routingNumber,omitempty" bson:"routingNumber,omitempty"`
	Instructions  string `json:"instructions" bson:"instructions"`
}

// Order is the persisted purchase record.
type Order struct {
	ID              uuid.UUID       `json:"id" bson:"_id"`
	Number          string          `json:"orderNumber" bson:"orderNumber"`
	UserID          *string         `json:"userId,omitempty" bson:"userId,omitempty"`
	Email           string          `json:"email" bson:"email"`
	Items           []Item          `json:"items" bson:"items"`
	ShippingAddress Address         `json:"shippingAddress" bson:"shippingAddress"`
	BillingAddress  *Address        `json:"billingAddress,omitempty" bson:"billingAddress,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal" bson:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shippingCost" bson:"shippingCost"`
	Tax             decimal.Decimal `json:"tax" bson:"tax"`
	Discount        decimal.Decimal `json:"discount" bson:"discount"`
	DiscountCode    string          `json:"discountCode,omitempty" bson:"discountCode,omitempty"`
	Total           decimal.Decimal `json:"totalAmount" bson:"totalAmount"`
	Currency        string          `json:"currency" bson:"currency"`
	PaymentMethod   string          `json:"paymentMethod" bson:"paymentMethod"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus" bson:"paymentStatus"`
	Status          Status          `json:"status" bson:"status"`
	TransactionID   string          `json:"transactionId,omitempty" bson:"transactionId,omitempty"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty" bson:"paymentIntentId,omitempty"`
	BankTransfer    *BankTransfer   `json:"bankTransfer,omitempty" bson:"bankTransfer,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// Owner returns the owning user id, or GuestOwner.
func (o Order) Owner() string {
	if o.UserID == nil || *o.UserID == "" {
		return GuestOwner
	}
	return *o.UserID
}

// IsGuest reports whether the order was placed without an account.
func (o Order) IsGuest() bool { return o.Owner() == GuestOwner }

// VisibleTo reports whether p may read or act on the order. Admins see every
// order; guest orders are addressable by id alone.
func (o Order) VisibleTo(p *common.Principal) bool {
	if o.IsGuest() {
		return true
	}
	if p == nil {
		return false
	}
	return p.IsAdmin() || p.UserID == o.Owner()
}

// ItemCount sums line quantities.
func (o Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}
