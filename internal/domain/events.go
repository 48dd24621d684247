package domain

import (
	"encoding/json"
	"time"
)

// PaymentSucceededEvent is published for orders whose payment completed.
type PaymentSucceededEvent struct {
	OrderID           string        `json:"orderId"`
	Status            PaymentStatus `json:"status"`
	PaymentProvider   Provider      `json:"paymentProvider"`
	ExternalPaymentID string        `json:"externalPaymentId"`
}

// PaymentFailedEvent is published when a payment fails, expires, is rolled
// back, or a webhook references an unknown order.
type PaymentFailedEvent struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Provider      Provider  `json:"provider"`
	FailureReason string    `json:"failureReason"`
	Timestamp     time.Time `json:"timestamp"`
}

// PublishRetryEnvelope wraps an event that could not be delivered to its
// original topic.
type PublishRetryEnvelope struct {
	OriginalTopic string          `json:"originalTopic"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failedAt"`
}

type DeadLetter struct {
	ID           string
	Topic        string
	Key          string
	Payload      []byte
	ErrorMessage string
	CreatedAt    time.Time
}
