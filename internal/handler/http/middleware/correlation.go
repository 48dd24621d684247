package middleware

import (
	"context"
	"net/http"

	"reconciler/internal/util"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const CorrelationHeader = "X-Correlation-ID"

type ctxKey struct{}

// Correlation propagates the caller's correlation id or assigns a new one,
// echoing it on the response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = util.GenerateUUID()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Logger returns l annotated with the request's correlation and request ids.
func Logger(ctx context.Context, l *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if id := CorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if id := chimw.GetReqID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return l.With(fields...)
}
