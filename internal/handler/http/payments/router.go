package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"reconciler/internal/app/payments"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, allowedOrigins []string, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Reconciler service is healthy!"))
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID"},
			ExposedHeaders:   []string{"X-Correlation-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Post("/", handler.CreatePaymentHandler)
		r.Get("/{orderId}", handler.GetPaymentHandler)
		r.Post("/{orderId}/rollback", handler.RollbackPaymentHandler)
	})
}
