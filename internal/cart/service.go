package cart

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/pricing"
)

// ProductLookup resolves products for stock and price checks.
type ProductLookup interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
}

// Service loads a session cart, applies one operation and saves the result.
type Service struct {
	Store    Store
	Products ProductLookup
	Pricing  *pricing.Calculator
}

// Get returns the session cart.
func (s *Service) Get(ctx context.Context, sessionID string) (State, error) {
	if sessionID == "" {
		return State{}, common.ValidationError("cart session is required")
	}
	return s.Store.Load(ctx, sessionID)
}

func (s *Service) mutate(ctx context.Context, sessionID string, fn func(State) (State, error)) (State, error) {
	st, err := s.Get(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	next, err := fn(st)
	if err != nil {
		return st, err
	}
	if err := s.Store.Save(ctx, sessionID, next); err != nil {
		return st, err
	}
	return next, nil
}

// Add puts qty of productID (in size) into the cart.
func (s *Service) Add(ctx context.Context, sessionID, productID string, qty int, size string) (State, error) {
	p, err := s.Products.Get(ctx, productID)
	if err != nil {
		return State{}, err
	}
	return s.mutate(ctx, sessionID, func(st State) (State, error) {
		return st.AddItem(p, qty, size)
	})
}

// Update changes the quantity of a line. Zero removes it.
func (s *Service) Update(ctx context.Context, sessionID, productID, size string, qty int) (State, error) {
	if qty < 1 {
		return s.Remove(ctx, sessionID, productID, size)
	}
	p, err := s.Products.Get(ctx, productID)
	if err != nil {
		return State{}, err
	}
	return s.mutate(ctx, sessionID, func(st State) (State, error) {
		return st.UpdateQuantity(p, size, qty)
	})
}

// Remove drops a line.
func (s *Service) Remove(ctx context.Context, sessionID, productID, size string) (State, error) {
	return s.mutate(ctx, sessionID, func(st State) (State, error) {
		return st.RemoveItem(productID, size), nil
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return common.ValidationError("cart session is required")
	}
	return s.Store.Delete(ctx, sessionID)
}

// ApplyDiscount validates code against the cart and records it.
func (s *Service) ApplyDiscount(ctx context.Context, sessionID, code string) (State, pricing.Breakdown, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return State{}, pricing.Breakdown{}, common.ValidationError("discount code is required")
	}
	var totals pricing.Breakdown
	st, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		if st.IsEmpty() {
			return st, common.ValidationError("cart is empty")
		}
		b, err := s.Pricing.Compute(st.PricingItems(), code, st.ShippingCountry)
		if err != nil {
			return st, err
		}
		totals = b
		return st.WithDiscount(b.DiscountCode), nil
	})
	return st, totals, err
}

// RemoveDiscount clears any applied code.
func (s *Service) RemoveDiscount(ctx context.Context, sessionID string) (State, error) {
	return s.mutate(ctx, sessionID, func(st State) (State, error) {
		return st.WithDiscount(""), nil
	})
}

// SetShippingCountry records the destination and returns the repriced totals.
func (s *Service) SetShippingCountry(ctx context.Context, sessionID, country string) (State, pricing.Breakdown, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return State{}, pricing.Breakdown{}, common.ValidationError("country is required")
	}
	var totals pricing.Breakdown
	st, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		b, err := s.Pricing.Compute(st.PricingItems(), st.DiscountCode, country)
		if err != nil {
			return st, err
		}
		totals = b
		return st.WithShippingCountry(country), nil
	})
	return st, totals, err
}

// Totals prices the cart as it stands.
func (s *Service) Totals(ctx context.Context, sessionID string) (State, pricing.Breakdown, error) {
	st, err := s.Get(ctx, sessionID)
	if err != nil {
		return State{}, pricing.Breakdown{}, err
	}
	b, err := s.Pricing.Compute(st.PricingItems(), st.DiscountCode, st.ShippingCountry)
	if err != nil {
		return st, pricing.Breakdown{}, err
	}
	return st, b, nil
}

// Reserve pins an order number and payment intent onto the cart.
func (s *Service) Reserve(ctx context.Context, sessionID, orderNumber, intentID string) error {
	_, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		if st.IsEmpty() {
			return st, errors.New("cannot reserve an empty cart")
		}
		return st.WithReservation(orderNumber, intentID), nil
	})
	return err
}

// Release drops the reserved order number and intent once an order has been
// created with them, so the next intent gets a fresh number.
func (s *Service) Release(ctx context.Context, sessionID string) error {
	_, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		return st.WithReservation("", ""), nil
	})
	return err
}
