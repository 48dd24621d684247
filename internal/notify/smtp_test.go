package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"reconciler/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSMTPNotifier_Sends(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 2525, Sender: "billing@shop.test"}, zap.NewNop())
	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	p := &domain.Payment{OrderID: "order123", UserEmail: "buyer@shop.test", Amount: 1000, Currency: "USD", ExternalPaymentID: "cs_1"}
	require.NoError(t, n.NotifyPaymentSucceeded(context.Background(), p))
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, []string{"buyer@shop.test"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Payment received for order order123")
}

func TestSMTPNotifier_SkipsWithoutHostOrEmail(t *testing.T) {
	called := false
	send := func(string, smtp.Auth, string, []string, []byte) error { called = true; return nil }

	n := NewSMTPNotifier(SMTPConfig{}, zap.NewNop())
	n.send = send
	require.NoError(t, n.NotifyPaymentSucceeded(context.Background(), &domain.Payment{UserEmail: "a@b.c"}))

	n = NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 25}, zap.NewNop())
	n.send = send
	require.NoError(t, n.NotifyPaymentSucceeded(context.Background(), &domain.Payment{}))
	assert.False(t, called)
}

func TestSMTPNotifier_PropagatesSendError(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.local", Port: 25}, zap.NewNop())
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 busy") }
	err := n.NotifyPaymentSucceeded(context.Background(), &domain.Payment{OrderID: "o", UserEmail: "a@b.c"})
	assert.Error(t, err)
}
