package cart_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/pricing"
	"github.com/noah-isme/storefront-core/internal/promo"
	"github.com/noah-isme/storefront-core/internal/shipping"
)

type products map[string]catalog.Product

func (p products) Get(_ context.Context, id string) (catalog.Product, error) {
	prod, ok := p[id]
	if !ok {
		return catalog.Product{}, common.NotFound("product not found")
	}
	return prod, nil
}

func newService(t *testing.T) (*cart.Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	promos, err := promo.ParseTable("")
	require.NoError(t, err)
	rates, err := shipping.ParseRates("", false)
	require.NoError(t, err)

	return &cart.Service{
		Store: &cart.RedisStore{Client: client},
		Products: products{
			"tee": {ID: "tee", Name: "Tee", Price: decimal.RequireFromString("29.99"), StockQuantity: 10, InStock: true},
		},
		Pricing: pricing.NewCalculator(promos, rates, zerolog.Nop()),
	}, mr
}

func TestServicePersistsAcrossCalls(t *testing.T) {
	svc, mr := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", "tee", 2, "")
	require.NoError(t, err)
	require.True(t, mr.Exists("cart:s1"))
	require.Greater(t, mr.TTL("cart:s1").Seconds(), float64(0))

	_, _, err = svc.ApplyDiscount(ctx, "s1", "welcome15")
	require.NoError(t, err)

	st, totals, err := svc.SetShippingCountry(ctx, "s1", "us")
	require.NoError(t, err)
	require.Equal(t, "WELCOME15", st.DiscountCode)
	require.Equal(t, "US", st.ShippingCountry)
	require.Equal(t, "55.78", totals.View().Total)

	require.NoError(t, svc.Clear(ctx, "s1"))
	st, err = svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, st.IsEmpty())
}

func TestServiceRejectsUnknownDiscount(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", "tee", 1, "")
	require.NoError(t, err)

	_, _, err = svc.ApplyDiscount(ctx, "s1", "NOPE")
	require.True(t, common.HasCode(err, common.CodeValidation))

	st, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, st.DiscountCode)
	require.Len(t, st.Items, 1)
}

func TestServiceUnknownProduct(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Add(context.Background(), "s1", "ghost", 1, "")
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestHandlerAddItemIssuesSession(t *testing.T) {
	svc, _ := newService(t)
	h := &cart.Handler{Svc: svc}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"tee","quantity":1}`))
	h.AddItem(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	sid := rec.Header().Get(cart.SessionHeader)
	require.NotEmpty(t, sid)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart/count", nil)
	req.Header.Set(cart.SessionHeader, sid)
	h.Count(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"itemCount":1`)
}

func TestHandlerAddItemValidation(t *testing.T) {
	svc, _ := newService(t)
	h := &cart.Handler{Svc: svc}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"tee","quantity":0}`))
	req.Header.Set(cart.SessionHeader, "s1")
	h.AddItem(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
