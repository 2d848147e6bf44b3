package shipping

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestQuoteFreeAboveThreshold(t *testing.T) {
	table, err := ParseRates("", false)
	require.NoError(t, err)

	q, err := table.Quote("us", decimal.RequireFromString("59.98"))
	require.NoError(t, err)
	require.True(t, q.Free)
	require.True(t, q.Cost.IsZero())
	require.Equal(t, "US", q.Country)

	q, err = table.Quote("CA", decimal.NewFromInt(20))
	require.NoError(t, err)
	require.Equal(t, "9.99", q.Cost.StringFixed(2))
}

func TestQuoteUnknownCountryFallsBack(t *testing.T) {
	table, err := ParseRates("", false)
	require.NoError(t, err)

	q, err := table.Quote("FR", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.True(t, q.Fallback)
	require.Equal(t, "24.99", q.Cost.StringFixed(2))
}

func TestQuoteStrictRejectsUnknownCountry(t *testing.T) {
	table, err := ParseRates("", true)
	require.NoError(t, err)

	_, err = table.Quote("FR", decimal.NewFromInt(10))
	require.ErrorIs(t, err, ErrUnrecognizedCountry)
}

func TestParseRatesOverridesFallback(t *testing.T) {
	table, err := ParseRates("DE:7.50:60:0.19,*:30:200:0.2", false)
	require.NoError(t, err)
	require.Equal(t, []string{"DE"}, table.Countries())

	q, err := table.Quote("JP", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Equal(t, "30.00", q.Cost.StringFixed(2))

	_, err = ParseRates("DE:abc:1:1", false)
	require.ErrorIs(t, err, ErrInvalidRates)
}

func TestQuoteHandler(t *testing.T) {
	table, err := ParseRates("", false)
	require.NoError(t, err)
	h := &Handler{Rates: table}

	rec := httptest.NewRecorder()
	h.Quote(rec, httptest.NewRequest(http.MethodGet, "/shipping/quote?country=UK&subtotal=40", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Cost string `json:"cost"`
			Free bool   `json:"free"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "14.99", body.Data.Cost)
	require.False(t, body.Data.Free)

	rec = httptest.NewRecorder()
	h.Quote(rec, httptest.NewRequest(http.MethodGet, "/shipping/quote", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
