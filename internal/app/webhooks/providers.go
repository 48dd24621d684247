package webhooks

import (
	"encoding/json"
	"fmt"

	"reconciler/internal/domain"
	"reconciler/internal/signature"

	"github.com/stripe/stripe-go/v76"
)

const (
	stripeCheckoutCompleted             = "checkout.session.completed"
	stripeCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	stripeCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	stripeCheckoutExpired               = "checkout.session.expired"

	razorpayPaymentLinkPaid      = "payment_link.paid"
	razorpayPaymentLinkExpired   = "payment_link.expired"
	razorpayPaymentLinkCancelled = "payment_link.cancelled"
)

type Action int

const (
	ActionIgnore Action = iota
	ActionSucceed
	ActionFail
)

// ParsedEvent is the provider-neutral view of a webhook.
type ParsedEvent struct {
	EventID           string `validate:"required,max=255"`
	Type              string `validate:"required"`
	OrderID           string `validate:"required,max=255"`
	ExternalPaymentID string `validate:"max=255"`
	Action            Action
	FailureReason     string
}

func (e *ParsedEvent) targetStatus() domain.PaymentStatus {
	if e.Action == ActionFail {
		return domain.PaymentStatusFailed
	}
	return domain.PaymentStatusSucceeded
}

// ProviderAdapter knows how one provider signs and shapes its webhooks.
type ProviderAdapter interface {
	Provider() domain.Provider
	VerifySignature(payload []byte, header string, mode signature.Mode) bool
	ParseEvent(payload []byte) (*ParsedEvent, error)
}

type stripeAdapter struct {
	verifier signature.Verifier
}

func NewStripeAdapter(verifier signature.Verifier) ProviderAdapter {
	return &stripeAdapter{verifier: verifier}
}

func (a *stripeAdapter) Provider() domain.Provider { return domain.ProviderStripe }

func (a *stripeAdapter) VerifySignature(payload []byte, header string, mode signature.Mode) bool {
	return a.verifier.Verify(payload, header, mode)
}

func (a *stripeAdapter) ParseEvent(payload []byte) (*ParsedEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	parsed := &ParsedEvent{EventID: event.ID, Type: string(event.Type)}
	switch parsed.Type {
	case stripeCheckoutCompleted, stripeCheckoutAsyncPaymentSucceeded:
		parsed.Action = ActionSucceed
	case stripeCheckoutExpired:
		parsed.Action = ActionFail
		parsed.FailureReason = "checkout session expired"
	case stripeCheckoutAsyncPaymentFailed:
		parsed.Action = ActionFail
		parsed.FailureReason = "checkout payment failed"
	default:
		return parsed, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", domain.ErrMalformedPayload, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", domain.ErrMalformedPayload, err)
	}
	parsed.OrderID = session.Metadata["orderId"]
	if parsed.OrderID == "" {
		parsed.OrderID = session.ClientReferenceID
	}
	parsed.ExternalPaymentID = session.ID
	// Delayed payment methods complete the session unpaid; async_payment_succeeded settles it.
	if parsed.Type == stripeCheckoutCompleted && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		parsed.Action = ActionIgnore
	}
	return parsed, nil
}

type razorpayAdapter struct {
	verifier signature.Verifier
}

func NewRazorpayAdapter(verifier signature.Verifier) ProviderAdapter {
	return &razorpayAdapter{verifier: verifier}
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink *struct {
			Entity struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
				Status      string `json:"status"`
			} `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload"`
}

func (a *razorpayAdapter) Provider() domain.Provider { return domain.ProviderRazorpay }

func (a *razorpayAdapter) VerifySignature(payload []byte, header string, mode signature.Mode) bool {
	return a.verifier.Verify(payload, header, mode)
}

// ParseEvent keys deduplication on the payment link reference id, which is
// the order id the link was created for.
func (a *razorpayAdapter) ParseEvent(payload []byte) (*ParsedEvent, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	parsed := &ParsedEvent{Type: hook.Event}
	switch hook.Event {
	case razorpayPaymentLinkPaid:
		parsed.Action = ActionSucceed
	case razorpayPaymentLinkExpired:
		parsed.Action = ActionFail
		parsed.FailureReason = "payment link expired"
	case razorpayPaymentLinkCancelled:
		parsed.Action = ActionFail
		parsed.FailureReason = "payment link cancelled"
	default:
		return parsed, nil
	}

	if hook.Payload.PaymentLink == nil {
		return nil, fmt.Errorf("%w: missing payload.payment_link", domain.ErrMalformedPayload)
	}
	entity := hook.Payload.PaymentLink.Entity
	parsed.EventID = entity.ReferenceID
	parsed.OrderID = entity.ReferenceID
	parsed.ExternalPaymentID = entity.ID
	return parsed, nil
}
