package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-core/internal/common"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/resilience"
)

// CaptureCompleted is the wallet status of a captured order.
const CaptureCompleted = "COMPLETED"

// Capture is the result of capturing an approved wallet order.
type Capture struct {
	OrderID   string
	Status    string
	CaptureID string
	Amount    decimal.Decimal
	Currency  string
}

// WalletClient captures wallet orders the payer already approved.
type WalletClient interface {
	CaptureOrder(ctx context.Context, walletOrderID string) (Capture, error)
}

// WalletMethod settles orders paid through a third-party wallet.
type WalletMethod struct {
	Client  WalletClient
	Timeout time.Duration
	Logger  zerolog.Logger
}

func (WalletMethod) Name() string { return MethodWallet }

func (m WalletMethod) AttemptPayment(ctx context.Context, o order.Order, in Input) (Result, error) {
	if in.WalletOrderID == "" {
		return Result{}, common.ValidationError("walletOrderId is required for wallet payments")
	}
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	c, err := m.Client.CaptureOrder(ctx, in.WalletOrderID)
	if err != nil {
		m.Logger.Error().Err(err).Str("order_number", o.Number).Str("wallet_order", in.WalletOrderID).Msg("wallet capture failed")
		return Result{Message: "wallet provider unavailable"}, common.ExternalServiceError("wallet provider unavailable", err)
	}
	if c.Status != CaptureCompleted {
		return Result{Message: fmt.Sprintf("Wallet payment not completed. Status: %s", c.Status)}, nil
	}
	if !c.Amount.IsZero() && !c.Amount.Equal(o.Total.Round(2)) {
		m.Logger.Warn().
			Str("order_number", o.Number).
			Str("captured", c.Amount.String()).
			Str("order_total", o.Total.StringFixed(2)).
			Msg("wallet capture amount does not match order")
		return Result{Message: "Payment amount does not match order total"}, nil
	}
	return Result{
		Success:       true,
		TransactionID: c.CaptureID,
		PaymentStatus: order.PaymentSucceeded,
		OrderStatus:   order.StatusProcessing,
	}, nil
}

// PayPalClient captures PayPal checkout orders over the REST API using OAuth
// client credentials. Access tokens are cached until shortly before expiry.
type PayPalClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTP         resilience.HTTPClient

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func (c *PayPalClient) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock().Before(c.expiresAt) {
		return c.token, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("paypal token: decode: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("paypal token: empty access token")
	}
	c.token = body.AccessToken
	c.expiresAt = c.clock().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

type paypalCaptureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					Value        string `json:"value"`
					CurrencyCode string `json:"currency_code"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CaptureOrder implements WalletClient. PayPal-Request-Id makes a repeated
// capture of the same order idempotent on the provider side.
func (c *PayPalClient) CaptureOrder(ctx context.Context, walletOrderID string) (Capture, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return Capture{}, err
	}
	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(walletOrderID))
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return Capture{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PayPal-Request-Id", "capture-"+walletOrderID)
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Capture{}, fmt.Errorf("paypal capture: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 422 is a business decline (instrument declined, order not approved).
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusUnprocessableEntity {
		return Capture{}, fmt.Errorf("paypal capture: unexpected status %d", resp.StatusCode)
	}
	var body paypalCaptureResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Capture{}, fmt.Errorf("paypal capture: decode: %w", err)
	}
	out := Capture{OrderID: body.ID, Status: body.Status}
	if len(body.PurchaseUnits) > 0 && len(body.PurchaseUnits[0].Payments.Captures) > 0 {
		cp := body.PurchaseUnits[0].Payments.Captures[0]
		out.CaptureID = cp.ID
		out.Currency = cp.Amount.CurrencyCode
		if v, err := decimal.NewFromString(cp.Amount.Value); err == nil {
			out.Amount = v
		}
	}
	if out.Status == "" {
		out.Status = "DECLINED"
	}
	return out, nil
}
