package webhooks_http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reconciler/internal/app/webhooks"
	"reconciler/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubIngester struct {
	result    webhooks.Result
	provider  domain.Provider
	payload   string
	signature string
	ctxErr    error
}

func (s *stubIngester) Ingest(ctx context.Context, provider domain.Provider, payload []byte, sig string) webhooks.Result {
	s.provider, s.payload, s.signature = provider, string(payload), sig
	s.ctxErr = ctx.Err()
	return s.result
}

func newRouter(ing Ingester) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, ing, 5*time.Second, zap.NewNop())
	return r
}

func TestWebhookRoutes_PassRawBodyAndSignature(t *testing.T) {
	ing := &stubIngester{result: webhooks.Result{Outcome: webhooks.OutcomeProcessed, EventID: "evt_1"}}
	router := newRouter(ing)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set(StripeSignatureHeader, "t=1,v1=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ProviderStripe, ing.provider)
	assert.Equal(t, `{"id":"evt_1"}`, ing.payload)
	assert.Equal(t, "t=1,v1=abc", ing.signature)
	assert.NoError(t, ing.ctxErr)

	var body WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PROCESSED", body.Outcome)
	assert.Equal(t, "evt_1", body.EventID)

	req = httptest.NewRequest(http.MethodPost, "/api/payment/webhook/razorpay", strings.NewReader(`{}`))
	req.Header.Set(RazorpaySignatureHeader, "deadbeef")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, domain.ProviderRazorpay, ing.provider)
	assert.Equal(t, "deadbeef", ing.signature)
}

func TestWebhookRoutes_StatusMapping(t *testing.T) {
	tests := []struct {
		outcome webhooks.Outcome
		status  int
	}{
		{webhooks.OutcomeProcessed, http.StatusOK},
		{webhooks.OutcomeIgnored, http.StatusOK},
		{webhooks.OutcomeNotFound, http.StatusOK},
		{webhooks.OutcomeDuplicate, http.StatusConflict},
		{webhooks.OutcomeInvalidSignature, http.StatusBadRequest},
		{webhooks.OutcomeMalformed, http.StatusBadRequest},
		{webhooks.OutcomeRateLimited, http.StatusTooManyRequests},
		{webhooks.OutcomeRetryScheduled, http.StatusInternalServerError},
		{webhooks.OutcomeTransientFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			router := newRouter(&stubIngester{result: webhooks.Result{Outcome: tt.outcome}})
			req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook/razorpay", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestWebhookRoutes_RateLimitedSetsRetryAfter(t *testing.T) {
	router := newRouter(&stubIngester{result: webhooks.Result{Outcome: webhooks.OutcomeRateLimited}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/payment/webhook/stripe", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestWebhookRoutes_OversizedBody(t *testing.T) {
	ing := &stubIngester{result: webhooks.Result{Outcome: webhooks.OutcomeProcessed}}
	router := newRouter(ing)
	body := strings.Repeat("a", maxBodyBytes+1)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/payment/webhook/stripe", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ing.provider, "ingester must not be called")
}
