package checkout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/cart"
	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/checkout"
	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/payment"
	"github.com/noah-isme/storefront-core/internal/pricing"
	"github.com/noah-isme/storefront-core/internal/promo"
	"github.com/noah-isme/storefront-core/internal/shipping"
	"github.com/noah-isme/storefront-core/internal/store/memstore"
)

type intents map[string]payment.Intent

func (in intents) CreateIntent(_ context.Context, p payment.IntentParams) (payment.Intent, error) {
	it := payment.Intent{
		ID:           "pi_" + p.OrderNumber,
		ClientSecret: "secret_" + p.OrderNumber,
		Status:       "requires_payment_method",
		Amount:       p.Amount,
		Metadata:     map[string]string{payment.MetadataOrderNumber: p.OrderNumber},
	}
	in[it.ID] = it
	return it, nil
}

func (in intents) RetrieveIntent(_ context.Context, id string) (payment.Intent, error) {
	return in[id], nil
}

type mailbox struct {
	mu     sync.Mutex
	orders []string
}

func (m *mailbox) BankTransferInstructions(_ context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, o.Number)
	return nil
}

func (m *mailbox) AdminAlert(context.Context, string, string) error { return nil }

type fixture struct {
	handler *checkout.Handler
	carts   *cart.Service
	mgr     *order.Manager
	orders  *memstore.Orders
	events  *memstore.Events
	gateway intents
	mail    *mailbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	promos, err := promo.ParseTable("")
	require.NoError(t, err)
	rates, err := shipping.ParseRates("", false)
	require.NoError(t, err)

	f := &fixture{
		orders:  memstore.NewOrders(),
		events:  &memstore.Events{},
		gateway: intents{},
		mail:    &mailbox{},
	}
	f.carts = &cart.Service{
		Store: &cart.RedisStore{Client: client},
		Products: memstore.NewProducts(catalog.Product{
			ID: "tee", Name: "Tee", Price: decimal.RequireFromString("29.99"), StockQuantity: 10, InStock: true,
		}),
		Pricing: pricing.NewCalculator(promos, rates, zerolog.Nop()),
	}
	mgr := &order.Manager{Repo: f.orders, Logger: zerolog.Nop(), Currency: "USD"}
	f.mgr = mgr
	bus := &events.Bus{Store: f.events}
	methods := payment.NewRegistry().
		Register(payment.CardMethod{Gateway: f.gateway, Logger: zerolog.Nop()}, "stripe").
		Register(payment.BankTransferMethod{
			Account:  payment.BankAccount{BankName: "First Bank", AccountName: "Storefront Inc", AccountNumber: "000123"},
			Notifier: f.mail,
			Logger:   zerolog.Nop(),
		})
	f.handler = &checkout.Handler{Svc: &checkout.Service{
		Carts:    f.carts,
		Orders:   mgr,
		Payments: &payment.Processor{Orders: mgr, Methods: methods, Events: bus, Logger: zerolog.Nop()},
		Events:   bus,
		Logger:   zerolog.Nop(),
	}}
	return f
}

// fillCart reproduces the launch promotion scenario: two tees, WELCOME15, US.
func (f *fixture) fillCart(t *testing.T, sid string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.Add(ctx, sid, "tee", 2, "")
	require.NoError(t, err)
	_, _, err = f.carts.ApplyDiscount(ctx, sid, "welcome15")
	require.NoError(t, err)
	_, _, err = f.carts.SetShippingCountry(ctx, sid, "US")
	require.NoError(t, err)
}

func (f *fixture) post(sid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req.Header.Set(cart.SessionHeader, sid)
	rec := httptest.NewRecorder()
	f.handler.Checkout(rec, req)
	return rec
}

const address = `"shippingAddress":{"fullName":"Alice","line1":"1 Main St","city":"Springfield","postalCode":"12345","country":"US"}`

type created struct {
	Data checkout.Output `json:"data"`
}

type failure struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func TestCheckoutEmptyCartCreatesNoOrder(t *testing.T) {
	f := newFixture(t)
	rec := f.post("s1", `{`+address+`,"email":"a@example.com","paymentMethod":"bank-transfer"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Cart is empty")
	require.Zero(t, f.orders.Len())
	require.Empty(t, f.events.Topics())
}

func TestCheckoutRejectsBeforeCreatingOrder(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "s1")

	for name, body := range map[string]string{
		"unknown method":  `{` + address + `,"email":"a@example.com","paymentMethod":"cash"}`,
		"card without id": `{` + address + `,"email":"a@example.com","paymentMethod":"card"}`,
		"missing address": `{"email":"a@example.com","paymentMethod":"bank-transfer"}`,
		"bad email":       `{` + address + `,"email":"nope","paymentMethod":"bank-transfer"}`,
		"unknown field":   `{` + address + `,"email":"a@example.com","paymentMethod":"bank-transfer","coupon":"x"}`,
		"guest, no email": `{` + address + `,"paymentMethod":"bank-transfer"}`,
	} {
		rec := f.post("s1", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Zero(t, f.orders.Len())
}

func TestCheckoutBankTransfer(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "s1")

	rec := f.post("s1", `{`+address+`,"email":"a@example.com","paymentMethod":"bank-transfer"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out created
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, order.StatusPendingPayment, out.Data.Status)
	require.Equal(t, order.PaymentPending, out.Data.PaymentStatus)
	require.Empty(t, out.Data.TransactionID)
	require.Equal(t, "55.78", out.Data.Totals.Total)
	require.NotNil(t, out.Data.BankTransfer)
	require.Equal(t, "ROI-"+out.Data.OrderNumber, out.Data.BankTransfer.Reference)
	require.Equal(t, []string{out.Data.OrderNumber}, f.mail.orders)

	require.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPendingPay}, f.events.Topics())

	st, err := f.carts.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, st.IsEmpty())
}

func TestCheckoutCardRequiresAction(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "s1")
	f.gateway["pi_3ds"] = payment.Intent{ID: "pi_3ds", Status: "requires_action", Amount: 5578}

	rec := f.post("s1", `{`+address+`,"email":"a@example.com","paymentMethod":"card","paymentIntentId":"pi_3ds"}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var fail failure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fail))
	require.Equal(t, common.CodePaymentDeclined, fail.Error.Code)
	require.Contains(t, fail.Error.Message, "requires_action")
	require.NotEmpty(t, fail.Error.Details["orderId"])

	require.Equal(t, 1, f.orders.Len())
	o, err := f.orders.GetByNumber(context.Background(), fail.Error.Details["orderNumber"])
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status)
	require.Equal(t, order.PaymentPending, o.PaymentStatus)
	require.Equal(t, "pi_3ds", o.PaymentIntentID)

	st, err := f.carts.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, st.IsEmpty())
}

func TestCheckoutCardUsesReservedNumber(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, "s1")
	require.NoError(t, f.carts.Reserve(context.Background(), "s1", "ORD-RESERVED", "pi_ok"))
	f.gateway["pi_ok"] = payment.Intent{
		ID: "pi_ok", Status: payment.IntentSucceeded, Amount: 5578,
		Metadata: map[string]string{payment.MetadataOrderNumber: "ORD-RESERVED"},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout",
		strings.NewReader(`{`+address+`,"paymentMethod":"stripe","paymentIntentId":"pi_ok"}`))
	req.Header.Set(cart.SessionHeader, "s1")
	req = req.WithContext(common.WithPrincipal(req.Context(), common.Principal{UserID: "alice", Email: "alice@example.com"}))
	rec := httptest.NewRecorder()
	f.handler.Checkout(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out created
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "ORD-RESERVED", out.Data.OrderNumber)
	require.Equal(t, order.PaymentSucceeded, out.Data.PaymentStatus)
	require.Equal(t, order.StatusProcessing, out.Data.Status)
	require.Equal(t, "pi_ok", out.Data.TransactionID)

	o, err := f.orders.GetByNumber(context.Background(), "ORD-RESERVED")
	require.NoError(t, err)
	require.Equal(t, "alice", o.Owner())
	require.Equal(t, "alice@example.com", o.Email)
	require.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPaid}, f.events.Topics())
}

func TestDeclinedCardRetryGetsFreshOrderNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "s1")
	require.NoError(t, f.carts.Reserve(ctx, "s1", "ORD-A", "pi_1"))
	f.gateway["pi_1"] = payment.Intent{
		ID: "pi_1", Status: "requires_action", Amount: 5578,
		Metadata: map[string]string{payment.MetadataOrderNumber: "ORD-A"},
	}

	rec := f.post("s1", `{`+address+`,"email":"a@example.com","paymentMethod":"card","paymentIntentId":"pi_1"}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	var fail failure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fail))
	require.Equal(t, "ORD-A", fail.Error.Details["orderNumber"])

	st, err := f.carts.Get(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, st.PendingOrderNumber)
	require.Empty(t, st.PaymentIntentID)

	_, err = f.carts.Add(ctx, "s1", "tee", 1, "")
	require.NoError(t, err)

	intentHandler := &payment.IntentHandler{Carts: f.carts, Orders: f.mgr, Gateway: f.gateway, Currency: "usd", Logger: zerolog.Nop()}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/intent", nil)
	req.Header.Set(cart.SessionHeader, "s1")
	irec := httptest.NewRecorder()
	intentHandler.Create(irec, req)
	require.Equal(t, http.StatusOK, irec.Code, irec.Body.String())
	var intent struct {
		Data struct {
			PaymentIntentID string `json:"paymentIntentId"`
			OrderNumber     string `json:"orderNumber"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(irec.Body.Bytes(), &intent))
	require.NotEqual(t, "ORD-A", intent.Data.OrderNumber)

	paid := f.gateway[intent.Data.PaymentIntentID]
	paid.Status = payment.IntentSucceeded
	f.gateway[paid.ID] = paid

	rec = f.post("s1", `{`+address+`,"email":"a@example.com","paymentMethod":"card","paymentIntentId":"`+paid.ID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out created
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, intent.Data.OrderNumber, out.Data.OrderNumber)
	require.Equal(t, order.PaymentSucceeded, out.Data.PaymentStatus)
	require.Equal(t, 2, f.orders.Len())

	old, err := f.orders.GetByNumber(ctx, "ORD-A")
	require.NoError(t, err)
	require.Equal(t, order.PaymentPending, old.PaymentStatus)
}

func TestIntentSkipsReservedNumberAlreadyUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, "s1")
	f.fillCart(t, "s2")
	require.NoError(t, f.carts.Reserve(ctx, "s2", "ORD-TAKEN", "pi_old"))

	f.gateway["pi_taken"] = payment.Intent{ID: "pi_taken", Status: payment.IntentSucceeded, Amount: 5578}
	require.NoError(t, f.carts.Reserve(ctx, "s1", "ORD-TAKEN", "pi_taken"))
	rec := f.post("s1", `{`+address+`,"email":"a@example.com","paymentMethod":"card","paymentIntentId":"pi_taken"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	h := &payment.IntentHandler{Carts: f.carts, Orders: f.mgr, Gateway: f.gateway, Currency: "usd", Logger: zerolog.Nop()}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/intent", nil)
	req.Header.Set(cart.SessionHeader, "s2")
	irec := httptest.NewRecorder()
	h.Create(irec, req)
	require.Equal(t, http.StatusOK, irec.Code, irec.Body.String())
	require.NotContains(t, irec.Body.String(), "ORD-TAKEN")
}
