// Package app assembles the storefront API from configuration: it opens the
// store and Redis, builds the domain services and mounts the HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-core/internal/auth"
	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/checkout"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/config"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/health"
	"github.com/noah-isme/storefront-core/internal/lock"
	"github.com/noah-isme/storefront-core/internal/notify"
	"github.com/noah-isme/storefront-core/internal/obs"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/payment"
	"github.com/noah-isme/storefront-core/internal/pricing"
	"github.com/noah-isme/storefront-core/internal/promo"
	"github.com/noah-isme/storefront-core/internal/resilience"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/shipping"
)

// MetricsNamespace prefixes every Prometheus collector the API registers.
const MetricsNamespace = "storefront"

// App is the assembled API.
type App struct {
	Handler  http.Handler
	Redis    *redis.Client
	Products catalog.Repository
	Orders   *order.Manager
	Events   *events.Bus

	closers []func(context.Context) error
}

// Close releases everything Build opened, most recent first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Build connects the backends named in cfg and wires the API. On error
// everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(MetricsNamespace, nil)
		resilience.MustRegisterMetrics(MetricsNamespace, nil)
	}

	repos, err := openStores(ctx, cfg, obs.Component(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.onClose(repos.close)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	a.onClose(func(context.Context) error { return rdb.Close() })
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.Redis = rdb
	a.Products = repos.products

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Repo:         repos.products,
		Cache:        catalog.NewCache(rdb, cfg.Limits.CatalogCacheTTL),
		Logger:       obs.Component(logger, "catalog"),
		DefaultLimit: 20,
		MaxLimit:     100,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	promos, err := promo.ParseTable(cfg.PromoCodes)
	if err != nil {
		return nil, fmt.Errorf("promo codes: %w", err)
	}
	rates, err := shipping.ParseRates(cfg.ShippingRates, cfg.StrictCountries)
	if err != nil {
		return nil, fmt.Errorf("shipping rates: %w", err)
	}
	calc := pricing.NewCalculator(promos, rates, obs.Component(logger, "pricing"))

	carts := &cart.Service{
		Store:    &cart.RedisStore{Client: rdb, TTL: cfg.CartTTL, Prefix: "cart:"},
		Products: catalogSvc,
		Pricing:  calc,
	}

	orders := &order.Manager{
		Repo:     repos.orders,
		Logger:   obs.Component(logger, "order"),
		Currency: cfg.Currency,
	}
	a.Orders = orders

	mail, closeMail := buildMailer(cfg, redisOpts, obs.Component(logger, "mail"))
	a.onClose(closeMail)
	templates, err := notify.ParseTemplates()
	if err != nil {
		return nil, fmt.Errorf("mail templates: %w", err)
	}
	emails := notify.EmailNotifier{
		Mail:       mail,
		Templates:  templates,
		Orders:     orders,
		StoreName:  cfg.StoreName,
		AdminEmail: cfg.Mail.AdminEmail,
		Enabled:    cfg.Mail.Enabled,
		Logger:     obs.Component(logger, "notify"),
	}

	notifiers := []events.Notifier{emails}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := &events.KafkaPublisher{
			Writer: events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, obs.Component(logger, "kafka")),
		}
		a.onClose(func(context.Context) error { return publisher.Close() })
		notifiers = append(notifiers, publisher)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing events to kafka")
	}
	bus := &events.Bus{Store: repos.events, Notifiers: notifiers}
	a.Events = bus

	paymentLog := obs.Component(logger, "payment")
	orders.Settled = func(ctx context.Context, o order.Order) {
		payment.Emit(ctx, bus, paymentLog, events.TopicOrderPaid, o, "settled by admin")
	}
	methods := payment.NewRegistry().Register(payment.BankTransferMethod{
		Account: payment.BankAccount{
			BankName:        cfg.Payment.BankName,
			AccountName:     cfg.Payment.BankAccountName,
			AccountNumber:   cfg.Payment.BankAccountNumber,
			RoutingNumber:   cfg.Payment.BankRoutingNumber,
			ReferencePrefix: cfg.Payment.ReferencePrefix,
		},
		Notifier: emails,
		Logger:   paymentLog,
	}, "bank_transfer")

	var gateway payment.CardGateway
	if cfg.Payment.StripeEnabled() {
		gateway = payment.NewStripeGateway(cfg.Payment.StripeSecretKey, resilience.NewTracedClient(cfg.Payment.Timeout))
		methods.Register(payment.CardMethod{Gateway: gateway, Timeout: cfg.Payment.Timeout, Logger: paymentLog}, "stripe")
	} else {
		logger.Warn().Msg("stripe not configured, card payments disabled")
	}
	if cfg.Payment.PayPalEnabled() {
		methods.Register(payment.WalletMethod{
			Client:  newPayPalClient(cfg, paymentLog),
			Timeout: cfg.Payment.Timeout,
			Logger:  paymentLog,
		}, "paypal")
	}
	processor := &payment.Processor{Orders: orders, Methods: methods, Events: bus, Logger: paymentLog}

	checkoutSvc := &checkout.Service{
		Carts:    carts,
		Orders:   orders,
		Payments: processor,
		Events:   bus,
		Logger:   obs.Component(logger, "checkout"),
	}

	reviewLog := obs.Component(logger, "reviews")
	aggregator := &reviews.Aggregator{
		Reviews:  repos.reviews,
		Products: catalogSvc,
		Locker:   lock.Locker{R: rdb, RetryBackoff: 25 * time.Millisecond, MaxWait: 4 * cfg.Limits.LockTTL},
		LockTTL:  cfg.Limits.LockTTL,
		Events:   bus,
		Logger:   reviewLog,
	}
	reviewSvc := &reviews.Service{
		Repo:        repos.reviews,
		Products:    catalogSvc,
		Aggregator:  aggregator,
		Purchases:   orders,
		Events:      bus,
		AutoApprove: cfg.ReviewsAutoApprove,
		Logger:      reviewLog,
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	srv := &server{
		cfg:      cfg,
		logger:   logger,
		redis:    rdb,
		authn:    auth.Middleware{Verifier: verifier, AccessCookie: cfg.AccessCookie},
		catalog:  catalog.NewHandler(catalogSvc),
		shipping: &shipping.Handler{Rates: rates},
		cart:     &cart.Handler{Svc: carts, CookieSecure: cfg.CookieSecure},
		checkout: &checkout.Handler{Svc: checkoutSvc},
		orders:   &order.Handler{Mgr: orders},
		ordersAd: &order.AdminHandler{Mgr: orders},
		reviews:  &reviews.Handler{Svc: reviewSvc},
		reviewAd: &reviews.AdminHandler{Svc: reviewSvc, Aggregator: aggregator},
		probes:   map[string]health.Probe{"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if repos.probe != nil {
		srv.probes["store"] = repos.probe
	}
	if gateway != nil {
		srv.intents = &payment.IntentHandler{Carts: carts, Orders: orders, Gateway: gateway, Currency: cfg.Currency, Logger: paymentLog}
		srv.confirm = &payment.ConfirmHandler{Orders: orders, Processor: processor}
		srv.webhook = &payment.Reconciler{
			Verifier:  payment.StripeWebhookVerifier{Secret: cfg.Payment.StripeWebhookSecret, Tolerance: 5 * time.Minute},
			Orders:    orders,
			Events:    bus,
			Replay:    rdb,
			ReplayTTL: cfg.Payment.WebhookReplayTTL,
			Logger:    paymentLog,
		}
	}

	handler, err := srv.routes()
	if err != nil {
		return nil, err
	}
	a.Handler = handler
	return a, nil
}

// buildMailer hands mail to the asynq worker when mail is enabled, sending
// inline over SMTP if the queue cannot take it.
func buildMailer(cfg *config.Config, redisOpts *redis.Options, logger zerolog.Logger) (common.EmailSender, func(context.Context) error) {
	if !cfg.Mail.Enabled {
		return common.NopEmailSender{}, func(context.Context) error { return nil }
	}
	var fallback common.EmailSender = common.NopEmailSender{}
	if cfg.Mail.SMTPHost != "" {
		fallback = notify.SMTPSender{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
		}
	} else {
		logger.Warn().Msg("SMTP_HOST not set, inline mail fallback disabled")
	}
	client := asynq.NewClient(asynqRedisOpt(redisOpts))
	closeClient := func(context.Context) error { return client.Close() }
	return notify.Dispatcher{Client: client, Fallback: fallback, Timeout: 5 * time.Second, Logger: logger}, closeClient
}

// asynqRedisOpt reuses the API's Redis connection settings for the task queue.
func asynqRedisOpt(o *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
}

func newPayPalClient(cfg *config.Config, logger zerolog.Logger) *payment.PayPalClient {
	return &payment.PayPalClient{
		BaseURL:      cfg.Payment.PayPalBaseURL,
		ClientID:     cfg.Payment.PayPalClientID,
		ClientSecret: cfg.Payment.PayPalClientSecret,
		HTTP: resilience.HTTPClient{
			Client: resilience.NewTracedClient(cfg.Payment.Timeout),
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Target:       "paypal",
				MinRequests:  5,
				FailureRatio: 0.5,
				OpenFor:      30 * time.Second,
				Logger:       logger,
			}),
			MaxAttempts: 1,
			Timeout:     cfg.Payment.Timeout,
		},
	}
}
