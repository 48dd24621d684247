package domain

import "time"

type AuditAction string

const (
	AuditActionInitiated   AuditAction = "INITIATED"
	AuditActionLinkCreated AuditAction = "LINK_CREATED"
	AuditActionSucceeded   AuditAction = "SUCCEEDED"
	AuditActionFailed      AuditAction = "FAILED"
)

const (
	DetailsAutoExpired       = "auto-expired"
	DetailsNoMatchingPayment = "no matching payment found"
)

type AuditLogEntry struct {
	ID                string
	PaymentID         string
	OrderID           string
	UserID            string
	Provider          Provider
	Amount            int64
	Currency          string
	ExternalPaymentID string
	Action            AuditAction
	Details           string
	Timestamp         time.Time
}

func NewAuditLogEntry(id string, p *Payment, action AuditAction, details string, now time.Time) *AuditLogEntry {
	return &AuditLogEntry{
		ID:                id,
		PaymentID:         p.ID,
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		Provider:          p.Provider,
		Amount:            p.Amount,
		Currency:          p.Currency,
		ExternalPaymentID: p.ExternalPaymentID,
		Action:            action,
		Details:           details,
		Timestamp:         now,
	}
}
