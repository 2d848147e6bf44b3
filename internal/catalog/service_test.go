package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/store/memstore"
)

func setup(t *testing.T, seed ...catalog.Product) (*catalog.Service, *memstore.Products, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := memstore.NewProducts(seed...)
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Repo:   repo,
		Cache:  catalog.NewCache(rdb, time.Minute),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc, repo, mr
}

func product(id, name, price string) catalog.Product {
	return catalog.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), StockQuantity: 5, InStock: true}
}

func TestGetCachesAndRatingUpdateEvicts(t *testing.T) {
	ctx := context.Background()
	svc, repo, mr := setup(t, product("mug", "Mug", "12.00"))

	p, err := svc.Get(ctx, "mug")
	require.NoError(t, err)
	require.Equal(t, "Mug", p.Name)
	require.True(t, mr.Exists("catalog:product:mug"))

	// The repository changes underneath; the cached copy still wins.
	require.NoError(t, repo.Upsert(ctx, product("mug", "Big Mug", "14.00")))
	p, err = svc.Get(ctx, "mug")
	require.NoError(t, err)
	require.Equal(t, "Mug", p.Name)

	require.NoError(t, svc.UpdateRating(ctx, "mug", 4.5, 2))
	require.False(t, mr.Exists("catalog:product:mug"))

	p, err = svc.Get(ctx, "mug")
	require.NoError(t, err)
	require.Equal(t, "Big Mug", p.Name)
	require.Equal(t, 4.5, p.Rating)
	require.Equal(t, 2, p.NumReviews)
}

func TestGetMissingProduct(t *testing.T) {
	svc, _, _ := setup(t)

	_, err := svc.Get(context.Background(), "nope")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	err = svc.UpdateRating(context.Background(), "nope", 3, 1)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, common.CodeNotFound, appErr.Code)
}

func TestCorruptCacheEntryIsAMiss(t *testing.T) {
	svc, _, mr := setup(t, product("cap", "Cap", "9.99"))
	require.NoError(t, mr.Set("catalog:product:cap", "{not json"))

	p, err := svc.Get(context.Background(), "cap")
	require.NoError(t, err)
	require.Equal(t, "Cap", p.Name)
}

func TestHandlerListsWithPagination(t *testing.T) {
	svc, _, _ := setup(t,
		product("a", "Apron", "20.00"),
		product("b", "Bag", "30.00"),
		product("c", "Cap", "10.00"),
	)
	h := catalog.NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/products", h.Products)
	r.Get("/products/{productId}", h.ProductDetail)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?page=2&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Header().Get("X-Total-Count"))

	var body struct {
		Data       []catalog.Product `json:"data"`
		Pagination common.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "Cap", body.Data[0].Name)
	require.Equal(t, common.Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, body.Pagination)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/zzz", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), common.CodeNotFound)
}
