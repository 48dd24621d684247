package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusInitiated, PaymentStatusLinkCreated, true},
		{PaymentStatusInitiated, PaymentStatusSucceeded, true},
		{PaymentStatusInitiated, PaymentStatusFailed, true},
		{PaymentStatusLinkCreated, PaymentStatusSucceeded, true},
		{PaymentStatusLinkCreated, PaymentStatusFailed, true},
		{PaymentStatusLinkCreated, PaymentStatusInitiated, false},
		{PaymentStatusSucceeded, PaymentStatusFailed, false},
		{PaymentStatusSucceeded, PaymentStatusInitiated, false},
		{PaymentStatusFailed, PaymentStatusSucceeded, false},
		{PaymentStatusFailed, PaymentStatusLinkCreated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPayment_TransitionTo(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	later := created.Add(time.Minute)

	t.Run("forward transition updates timestamp", func(t *testing.T) {
		p := NewPayment("p1", "order123", "u1", "", ProviderStripe, 1000, "USD", created)
		require.NoError(t, p.TransitionTo(PaymentStatusSucceeded, later))
		assert.Equal(t, PaymentStatusSucceeded, p.Status)
		assert.Equal(t, later, p.UpdatedAt)
	})

	t.Run("terminal payment is immutable", func(t *testing.T) {
		p := NewPayment("p1", "order123", "u1", "", ProviderStripe, 1000, "USD", created)
		p.Status = PaymentStatusFailed
		err := p.TransitionTo(PaymentStatusSucceeded, later)
		assert.ErrorIs(t, err, ErrPaymentTerminal)
		assert.Equal(t, PaymentStatusFailed, p.Status)
		assert.Equal(t, created, p.UpdatedAt)
	})

	t.Run("backward transition rejected", func(t *testing.T) {
		p := NewPayment("p1", "order123", "u1", "", ProviderStripe, 1000, "USD", created)
		p.Status = PaymentStatusLinkCreated
		assert.ErrorIs(t, p.TransitionTo(PaymentStatusInitiated, later), ErrInvalidTransition)
	})
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("RAZORPAY")
	require.NoError(t, err)
	assert.Equal(t, ProviderRazorpay, p)

	_, err = ParseProvider("stripe")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = ParseProvider("PAYPAL")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestRetryTask_RecordAttempt(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	task := NewRetryTask("t1", ProviderStripe, []byte("{}"), "sig", "db down", now)

	next := now.Add(time.Minute)
	task.RecordAttempt(false, "still down", next, now.Add(time.Second))
	assert.Equal(t, 1, task.AttemptCount)
	assert.False(t, task.Processed)
	assert.Equal(t, next, task.NextAttemptAt)
	assert.Equal(t, now.Add(time.Second), task.UpdatedAt)

	task.RecordAttempt(true, "", time.Time{}, now.Add(2*time.Second))
	assert.Equal(t, 2, task.AttemptCount)
	assert.True(t, task.Processed)
	assert.Equal(t, next, task.NextAttemptAt)
}
