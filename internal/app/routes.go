package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/auth"
	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/checkout"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/config"
	"github.com/noah-isme/storefront-core/internal/health"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/payment"
	"github.com/noah-isme/storefront-core/internal/ratelimit"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/security"
	"github.com/noah-isme/storefront-core/internal/shipping"
)

type server struct {
	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	authn  auth.Middleware
	probes map[string]health.Probe

	catalog  *catalog.Handler
	shipping *shipping.Handler
	cart     *cart.Handler
	checkout *checkout.Handler
	orders   *order.Handler
	ordersAd *order.AdminHandler
	reviews  *reviews.Handler
	reviewAd *reviews.AdminHandler

	// Card endpoints exist only when Stripe is configured.
	intents *payment.IntentHandler
	confirm *payment.ConfirmHandler
	webhook *payment.Reconciler
}

func (s *server) routes() (http.Handler, error) {
	cfg := s.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		metrics := obs.NewHTTPMetrics(MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: s.logger}.Middleware)
	r.Use(security.HeaderPolicy{HSTS: cfg.IsProduction(), IncludeSubdomains: true}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	probes := health.Handler{Probes: s.probes, Timeout: 500 * time.Millisecond}
	r.Get("/health/live", probes.Live)
	r.Get("/health/ready", probes.Ready)

	var perIP func(http.Handler) http.Handler
	if rate := strings.TrimSpace(cfg.Limits.IPRate); rate != "" && rate != "off" {
		ipStore, err := ratelimit.NewRedisStore(s.redis, "ratelimit:ip")
		if err != nil {
			return nil, fmt.Errorf("ip rate limit store: %w", err)
		}
		perIP, err = ratelimit.PerIP(ipStore, rate, s.logger)
		if err != nil {
			return nil, err
		}
	}

	idem := common.Idem{R: s.redis, TTL: cfg.Limits.IdempotencyTTL, Scope: cart.SessionID}
	reviewLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: s.redis, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByUser("reviews"),
			Window: cfg.Limits.ReviewWindow,
			Max:    cfg.Limits.ReviewMax,
		},
		Logger: s.logger,
	}

	r.Route("/api/v1", func(v chi.Router) {
		if perIP != nil {
			v.Use(perIP)
		}
		v.Use(security.BodyLimit{Max: cfg.Limits.MaxBodyBytes}.Middleware)
		v.Use(s.authn.Authenticate)

		v.Get("/products", s.catalog.Products)
		v.Get("/products/{productId}", s.catalog.ProductDetail)
		v.Get("/products/{productId}/reviews", s.reviews.ListForProduct)
		v.Get("/shipping/quote", s.shipping.Quote)
		v.Get("/shipping/countries", s.shipping.Countries)

		v.Route("/cart", func(c chi.Router) {
			c.Get("/", s.cart.Get)
			c.Get("/count", s.cart.Count)
			c.Delete("/", s.cart.Clear)
			c.With(idem.Middleware).Post("/items", s.cart.AddItem)
			c.Patch("/items/{productId}", s.cart.UpdateItem)
			c.Delete("/items/{productId}", s.cart.RemoveItem)
			c.With(idem.Middleware).Post("/discount", s.cart.ApplyDiscount)
			c.Delete("/discount", s.cart.RemoveDiscount)
			c.With(idem.Middleware).Post("/shipping", s.cart.SetShipping)
		})

		v.With(idem.Middleware).Post("/checkout", s.checkout.Checkout)

		if s.intents != nil {
			v.With(idem.Middleware).Post("/payment/intent", s.intents.Create)
			v.With(idem.Middleware).Post("/payment/confirm", s.confirm.Confirm)
			v.Post("/webhook/payment", s.webhook.Handle)
		}

		v.Get("/orders/{orderId}", s.orders.Get)
		v.Group(func(a chi.Router) {
			a.Use(s.authn.RequireAuth)
			a.Get("/orders", s.orders.List)
			a.Post("/orders/associate-guest", s.orders.AssociateGuest)
			a.Post("/orders/{orderId}/cancel", s.orders.Cancel)
		})

		v.Route("/reviews", func(rv chi.Router) {
			rv.Use(s.authn.RequireAuth)
			rv.Get("/mine", s.reviews.Mine)
			rv.Group(func(w chi.Router) {
				w.Use(reviewLimit.Middleware)
				w.With(idem.Middleware).Post("/", s.reviews.Create)
				w.Put("/{reviewId}", s.reviews.Update)
				w.Delete("/{reviewId}", s.reviews.Delete)
				w.Post("/{reviewId}/helpful", s.reviews.Helpful)
				w.Post("/{reviewId}/report", s.reviews.Report)
			})
		})

		v.Route("/admin", func(ad chi.Router) {
			ad.Use(s.authn.RequireRole(common.RoleAdmin))
			ad.Patch("/orders/{orderId}/status", s.ordersAd.PatchStatus)
			ad.Patch("/reviews/{reviewId}/approval", s.reviewAd.SetApproval)
			ad.Post("/products/{productId}/ratings/recompute", s.reviewAd.RecomputeProduct)
			ad.Post("/ratings/recompute", s.reviewAd.RecomputeAll)
		})
	})

	return r, nil
}
