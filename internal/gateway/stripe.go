package gateway

import (
	"context"
	"fmt"
	"strings"

	"reconciler/internal/domain"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway creates Checkout Sessions. The order id travels in the
// session metadata so that checkout.session.completed can be reconciled.
type StripeGateway struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripeGateway(apiKey, successURL, cancelURL string) *StripeGateway {
	return &StripeGateway{
		api:        client.New(apiKey, nil),
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (g *StripeGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.UserEmail != "" {
		params.CustomerEmail = stripe.String(req.UserEmail)
	}
	params.AddMetadata("orderId", req.OrderID)
	params.AddMetadata("userId", req.UserID)
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe checkout session for order %s: %v", domain.ErrGatewayFailure, req.OrderID, err)
	}
	return &LinkResult{
		ExternalRef: session.ID,
		URL:         session.URL,
		Status:      string(session.Status),
	}, nil
}
