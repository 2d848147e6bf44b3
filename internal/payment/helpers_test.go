package payment_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/payment"
	"github.com/noah-isme/storefront-core/internal/pricing"
	"github.com/noah-isme/storefront-core/internal/store/memstore"
)

const webhookSecret = "whsec_test"

var alice = common.Principal{UserID: "alice", Email: "alice@example.com"}

type env struct {
	mgr    *order.Manager
	orders *memstore.Orders
	events *memstore.Events
	bus    *events.Bus
}

func newEnv() env {
	repo := memstore.NewOrders()
	evs := &memstore.Events{}
	return env{
		mgr:    &order.Manager{Repo: repo, Logger: zerolog.Nop(), Currency: "USD"},
		orders: repo,
		events: evs,
		bus:    &events.Bus{Store: evs},
	}
}

func (e env) placeOrder(t *testing.T, method string) order.Order {
	t.Helper()
	o, err := e.mgr.Create(context.Background(), order.CreateInput{
		Items: []order.Item{{ProductID: "tee", Name: "Tee", UnitPrice: decimal.RequireFromString("29.99"), Quantity: 2}},
		ShippingAddress: order.Address{
			FullName: "Alice", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
		PaymentMethod: method,
		Totals: pricing.Breakdown{
			Subtotal: decimal.RequireFromString("59.98"),
			Discount: decimal.RequireFromString("8.997"),
			Tax:      decimal.RequireFromString("4.7984"),
			Total:    decimal.RequireFromString("55.7814"),
		},
		Owner: &alice,
	})
	require.NoError(t, err)
	return o
}

func (e env) reload(t *testing.T, id order.Order) order.Order {
	t.Helper()
	o, err := e.orders.Get(context.Background(), id.ID)
	require.NoError(t, err)
	return o
}

type fakeGateway struct {
	mu      sync.Mutex
	intents map[string]payment.Intent
	created []payment.IntentParams
	err     error
}

func newFakeGateway(intents ...payment.Intent) *fakeGateway {
	g := &fakeGateway{intents: map[string]payment.Intent{}}
	for _, in := range intents {
		g.intents[in.ID] = in
	}
	return g
}

func (g *fakeGateway) CreateIntent(_ context.Context, p payment.IntentParams) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return payment.Intent{}, g.err
	}
	g.created = append(g.created, p)
	in := payment.Intent{
		ID:           "pi_new",
		Status:       "requires_payment_method",
		Amount:       p.Amount,
		Currency:     p.Currency,
		ClientSecret: "pi_new_secret",
		Metadata:     map[string]string{payment.MetadataOrderNumber: p.OrderNumber},
	}
	g.intents[in.ID] = in
	return in, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, id string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return payment.Intent{}, g.err
	}
	in, ok := g.intents[id]
	if !ok {
		return payment.Intent{}, context.DeadlineExceeded
	}
	return in, nil
}

type recordingNotifier struct {
	mu           sync.Mutex
	instructions []order.Order
	alerts       []string
	err          error
}

func (n *recordingNotifier) BankTransferInstructions(_ context.Context, o order.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.instructions = append(n.instructions, o)
	return n.err
}

func (n *recordingNotifier) AdminAlert(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, subject)
	return n.err
}

func signedEvent(t *testing.T, id, typ string, intent map[string]any) (body []byte, header string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   typ,
		"data":   map[string]any{"object": intent},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func intentJSON(id, status string, amount int64, orderNumber string) map[string]any {
	return map[string]any{
		"id":       id,
		"object":   "payment_intent",
		"amount":   amount,
		"currency": "usd",
		"status":   status,
		"metadata": map[string]string{payment.MetadataOrderNumber: orderNumber},
	}
}
