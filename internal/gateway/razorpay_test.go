package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"reconciler/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRazorpayGateway_CreatePaymentLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment_links", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order123", body["reference_id"])
		assert.EqualValues(t, 1000, body["amount"])
		assert.Equal(t, "INR", body["currency"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"plink_1","short_url":"https://rzp.io/i/abc","status":"created"}`))
	}))
	defer server.Close()

	g := NewRazorpayGateway("rzp_key", "rzp_secret").WithBaseURL(server.URL)
	res, err := g.CreatePaymentLink(context.Background(), LinkRequest{
		OrderID:   "order123",
		UserID:    "u1",
		UserEmail: "a@b.c",
		Amount:    1000,
		Currency:  "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "plink_1", res.ExternalRef)
	assert.Equal(t, "https://rzp.io/i/abc", res.URL)
}

func TestRazorpayGateway_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too low"}}`))
	}))
	defer server.Close()

	g := NewRazorpayGateway("k", "s").WithBaseURL(server.URL)
	_, err := g.CreatePaymentLink(context.Background(), LinkRequest{OrderID: "order123", Amount: 1, Currency: "INR"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Contains(t, err.Error(), "amount too low")
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.ProviderRazorpay, NewRazorpayGateway("k", "s"))

	_, err := r.Get(domain.ProviderRazorpay)
	assert.NoError(t, err)

	_, err = r.Get(domain.ProviderStripe)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}
