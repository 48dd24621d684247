package payments_http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"reconciler/internal/app/payments"
	"reconciler/internal/domain"
	"reconciler/internal/handler/http/middleware"
)

type PaymentHandler struct {
	service  payments.PaymentService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, validate: validator.New(), logger: l}
}

type CreatePaymentRequest struct {
	OrderID     string `json:"orderId" validate:"required,max=255"`
	UserID      string `json:"userId" validate:"required,max=255"`
	UserEmail   string `json:"userEmail" validate:"omitempty,email"`
	Provider    string `json:"provider" validate:"required,oneof=STRIPE RAZORPAY"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Description string `json:"description" validate:"max=500"`
}

type RollbackRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type PaymentResponse struct {
	ID                string `json:"id"`
	OrderID           string `json:"orderId"`
	UserID            string `json:"userId"`
	Provider          string `json:"provider"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	ExternalPaymentID string `json:"externalPaymentId,omitempty"`
	Status            string `json:"status"`
	PaymentURL        string `json:"paymentUrl,omitempty"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                p.ID,
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		Provider:          string(p.Provider),
		Amount:            p.Amount,
		Currency:          p.Currency,
		ExternalPaymentID: p.ExternalPaymentID,
		Status:            string(p.Status),
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *PaymentHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"}, logger)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()}, logger)
		return
	}

	payment, link, err := h.service.CreatePaymentLink(r.Context(), payments.CreateLinkRequest{
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		UserEmail:   req.UserEmail,
		Provider:    domain.Provider(req.Provider),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentAlreadyExists):
			h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: "an active payment already exists for this order"}, logger)
		case errors.Is(err, domain.ErrUnsupportedProvider):
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()}, logger)
		case errors.Is(err, domain.ErrGatewayFailure):
			h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "payment provider unavailable"}, logger)
		default:
			logger.Error("Failed to create payment link", zap.String("order_id", req.OrderID), zap.Error(err))
			h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}, logger)
		}
		return
	}

	resp := toResponse(payment)
	if link != nil {
		resp.PaymentURL = link.URL
	}
	h.writeJSON(w, http.StatusCreated, resp, logger)
}

func (h *PaymentHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)
	orderID := chi.URLParam(r, "orderId")

	payment, err := h.service.GetPayment(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "payment not found"}, logger)
			return
		}
		logger.Error("Failed to get payment", zap.String("order_id", orderID), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}, logger)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(payment), logger)
}

func (h *PaymentHandler) RollbackPaymentHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.Logger(r.Context(), h.logger)
	orderID := chi.URLParam(r, "orderId")

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"}, logger)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()}, logger)
		return
	}

	payment, err := h.service.Rollback(r.Context(), orderID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "payment not found"}, logger)
		case errors.Is(err, domain.ErrPaymentTerminal):
			h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: "payment already succeeded"}, logger)
		default:
			logger.Error("Failed to roll back payment", zap.String("order_id", orderID), zap.Error(err))
			h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}, logger)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(payment), logger)
}

func (h *PaymentHandler) writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}
