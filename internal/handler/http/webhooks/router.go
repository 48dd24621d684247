package webhooks_http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func RegisterRoutes(r chi.Router, ingester Ingester, timeout time.Duration, l *zap.Logger) {
	handler := NewWebhookHandler(ingester, timeout, l.With(zap.String("component", "WebhookHTTPHandler")))

	r.Route("/api/payment/webhook", func(r chi.Router) {
		r.Post("/stripe", handler.StripeWebhookHandler)
		r.Post("/razorpay", handler.RazorpayWebhookHandler)
	})
}
