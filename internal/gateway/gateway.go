// Package gateway creates hosted payment links with the external providers.
package gateway

import (
	"context"
	"fmt"

	"reconciler/internal/domain"
)

type LinkRequest struct {
	OrderID     string
	UserID      string
	UserEmail   string
	Amount      int64
	Currency    string
	Description string
}

type LinkResult struct {
	ExternalRef string
	URL         string
	Status      string
}

type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*LinkResult, error)
}

type Registry struct {
	gateways map[domain.Provider]PaymentGateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[domain.Provider]PaymentGateway)}
}

func (r *Registry) Register(provider domain.Provider, g PaymentGateway) {
	r.gateways[provider] = g
}

func (r *Registry) Get(provider domain.Provider) (PaymentGateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway registered for %s", domain.ErrUnsupportedProvider, provider)
	}
	return g, nil
}
