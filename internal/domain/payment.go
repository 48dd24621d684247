package domain

import (
	"fmt"
	"time"
)

type Provider string

const (
	ProviderStripe   Provider = "STRIPE"
	ProviderRazorpay Provider = "RAZORPAY"
)

func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderRazorpay
}

// ParseProvider accepts only the exact enum values.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
	}
	return p, nil
}

type PaymentStatus string

const (
	PaymentStatusInitiated   PaymentStatus = "INITIATED"
	PaymentStatusLinkCreated PaymentStatus = "LINK_CREATED"
	PaymentStatusSucceeded   PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed      PaymentStatus = "FAILED"
)

var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusInitiated:   {PaymentStatusLinkCreated, PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusLinkCreated: {PaymentStatusSucceeded, PaymentStatusFailed},
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Payment struct {
	ID                string
	OrderID           string
	UserID            string
	UserEmail         string
	Provider          Provider
	Amount            int64
	Currency          string
	ExternalPaymentID string
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewPayment(id, orderID, userID, userEmail string, provider Provider, amount int64, currency string, now time.Time) *Payment {
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		UserID:    userID,
		UserEmail: userEmail,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Status:    PaymentStatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the payment forward. Terminal payments never change.
func (p *Payment) TransitionTo(next PaymentStatus, now time.Time) error {
	if p.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s", ErrPaymentTerminal, p.OrderID, p.Status)
	}
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}
