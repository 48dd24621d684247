package webhooks_http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"reconciler/internal/app/webhooks"
	"reconciler/internal/domain"
	"reconciler/internal/handler/http/middleware"

	"go.uber.org/zap"
)

const (
	StripeSignatureHeader   = "Stripe-Signature"
	RazorpaySignatureHeader = "X-Razorpay-Signature"

	maxBodyBytes = 1 << 20
)

type Ingester interface {
	Ingest(ctx context.Context, provider domain.Provider, payload []byte, signature string) webhooks.Result
}

type WebhookHandler struct {
	ingester Ingester
	timeout  time.Duration
	logger   *zap.Logger
}

func NewWebhookHandler(ingester Ingester, timeout time.Duration, l *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ingester: ingester, timeout: timeout, logger: l}
}

type WebhookResponse struct {
	Outcome string `json:"outcome"`
	EventID string `json:"eventId,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusFor maps a pipeline outcome to the HTTP status returned to the
// provider. Anything in the 2xx range stops provider redelivery.
func StatusFor(outcome webhooks.Outcome) int {
	switch outcome {
	case webhooks.OutcomeProcessed, webhooks.OutcomeIgnored, webhooks.OutcomeNotFound:
		return http.StatusOK
	case webhooks.OutcomeDuplicate:
		return http.StatusConflict
	case webhooks.OutcomeInvalidSignature, webhooks.OutcomeMalformed:
		return http.StatusBadRequest
	case webhooks.OutcomeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *WebhookHandler) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderStripe, r.Header.Get(StripeSignatureHeader))
}

func (h *WebhookHandler) RazorpayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderRazorpay, r.Header.Get(RazorpaySignatureHeader))
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider domain.Provider, sig string) {
	logger := middleware.Logger(r.Context(), h.logger).With(zap.String("provider", string(provider)))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("Failed to read webhook body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, WebhookResponse{Outcome: string(webhooks.OutcomeMalformed), Message: "unreadable body"}, logger)
		return
	}

	// Processing continues if the provider hangs up mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	res := h.ingester.Ingest(ctx, provider, payload, sig)
	status := StatusFor(res.Outcome)
	if res.Outcome == webhooks.OutcomeRateLimited {
		w.Header().Set("Retry-After", "1")
	}

	logger.Info("Webhook handled",
		zap.String("outcome", string(res.Outcome)),
		zap.String("event_id", res.EventID),
		zap.Int("status", status))

	writeJSON(w, status, WebhookResponse{
		Outcome: string(res.Outcome),
		EventID: res.EventID,
		Message: res.Message(),
	}, logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
