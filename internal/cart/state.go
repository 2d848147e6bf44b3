package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

// Item is a single cart line. Lines are keyed by product and size.
type Item struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Size        string          `json:"size,omitempty"`
	MaxQuantity int             `json:"maxQuantity"`
	Image       string          `json:"image,omitempty"`
}

func (i Item) matches(productID, size string) bool {
	return i.ProductID == productID && i.Size == size
}

// State is the whole cart of one session. Every operation returns a new value
// and leaves the receiver untouched.
type State struct {
	Items              []Item `json:"items"`
	DiscountCode       string `json:"discountCode,omitempty"`
	ShippingCountry    string `json:"shippingCountry,omitempty"`
	PendingOrderNumber string `json:"pendingOrderNumber,omitempty"`
	PaymentIntentID    string `json:"paymentIntentId,omitempty"`
}

// Summary is the lightweight cart badge payload.
type Summary struct {
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func (s State) clone() State {
	out := s
	out.Items = make([]Item, len(s.Items))
	copy(out.Items, s.Items)
	return out
}

func (s State) find(productID, size string) int {
	for i, it := range s.Items {
		if it.matches(productID, size) {
			return i
		}
	}
	return -1
}

// IsEmpty reports whether the cart holds no lines.
func (s State) IsEmpty() bool { return len(s.Items) == 0 }

// AddItem merges qty into the (product, size) line or appends a new line.
func (s State) AddItem(p catalog.Product, qty int, size string) (State, error) {
	if qty < 1 {
		return s, common.ValidationError("quantity must be at least 1")
	}
	if !p.InStock {
		return s, common.OutOfStock(fmt.Sprintf("%s is out of stock", p.Name))
	}
	maxQty := p.MaxQuantity()
	out := s.clone()
	idx := out.find(p.ID, size)
	existing := 0
	if idx >= 0 {
		existing = out.Items[idx].Quantity
	}
	if existing+qty > maxQty {
		return s, common.OutOfStock(fmt.Sprintf("Only %d items available in stock", maxQty)).
			WithDetails(map[string]any{"productId": p.ID, "available": maxQty, "inCart": existing})
	}
	if idx >= 0 {
		out.Items[idx].Quantity = existing + qty
		out.Items[idx].UnitPrice = p.Price
		out.Items[idx].MaxQuantity = maxQty
		return out, nil
	}
	out.Items = append(out.Items, Item{
		ProductID:   p.ID,
		Name:        p.Name,
		UnitPrice:   p.Price,
		Quantity:    qty,
		Size:        size,
		MaxQuantity: maxQty,
		Image:       p.Image,
	})
	return out, nil
}

// UpdateQuantity sets the quantity of a line. A quantity below one removes it.
func (s State) UpdateQuantity(p catalog.Product, size string, qty int) (State, error) {
	idx := s.find(p.ID, size)
	if idx < 0 {
		return s, common.NotFound("item not found in cart")
	}
	if qty < 1 {
		return s.RemoveItem(p.ID, size), nil
	}
	maxQty := p.MaxQuantity()
	if qty > maxQty {
		return s, common.OutOfStock(fmt.Sprintf("Only %d items available in stock", maxQty)).
			WithDetails(map[string]any{"productId": p.ID, "available": maxQty})
	}
	out := s.clone()
	out.Items[idx].Quantity = qty
	out.Items[idx].MaxQuantity = maxQty
	return out, nil
}

// RemoveItem drops the (product, size) line if present.
func (s State) RemoveItem(productID, size string) State {
	out := s.clone()
	kept := out.Items[:0]
	for _, it := range out.Items {
		if !it.matches(productID, size) {
			kept = append(kept, it)
		}
	}
	out.Items = kept
	return out
}

// Clear empties the cart, including any discount and reservation.
func (State) Clear() State {
	return State{Items: []Item{}}
}

// WithDiscount records a discount code. The caller validates it.
func (s State) WithDiscount(code string) State {
	out := s.clone()
	out.DiscountCode = code
	return out
}

// WithShippingCountry records the destination used for totals.
func (s State) WithShippingCountry(country string) State {
	out := s.clone()
	out.ShippingCountry = country
	return out
}

// WithReservation pins the order number and payment intent created for this cart.
func (s State) WithReservation(orderNumber, intentID string) State {
	out := s.clone()
	out.PendingOrderNumber = orderNumber
	out.PaymentIntentID = intentID
	return out
}

// Summary returns the item count and subtotal.
func (s State) Summary() Summary {
	count := 0
	for _, it := range s.Items {
		count += it.Quantity
	}
	return Summary{ItemCount: count, Subtotal: pricing.Subtotal(s.PricingItems())}
}

// PricingItems converts the lines for the pricing calculator.
func (s State) PricingItems() []pricing.Item {
	out := make([]pricing.Item, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, pricing.Item{UnitPrice: it.UnitPrice, Qty: it.Quantity})
	}
	return out
}
