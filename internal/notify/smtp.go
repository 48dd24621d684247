// Package notify sends best-effort customer emails.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"reconciler/internal/domain"

	"go.uber.org/zap"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier is disabled when no host is configured.
type SMTPNotifier struct {
	cfg    SMTPConfig
	send   sendFunc
	logger *zap.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail, logger: logger}
}

func (n *SMTPNotifier) NotifyPaymentSucceeded(ctx context.Context, p *domain.Payment) error {
	if n.cfg.Host == "" || p.UserEmail == "" {
		n.logger.Debug("Skipping payment notification", zap.String("order_id", p.OrderID))
		return nil
	}

	subject := fmt.Sprintf("Payment received for order %s", p.OrderID)
	body := fmt.Sprintf("Your payment of %d %s for order %s was received.\r\nReference: %s\r\n",
		p.Amount, p.Currency, p.OrderID, p.ExternalPaymentID)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", n.cfg.Sender, p.UserEmail, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	var auth smtp.Auth
	if n.cfg.Username != "" && n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	if err := n.send(addr, auth, n.cfg.Sender, []string{p.UserEmail}, msg); err != nil {
		return fmt.Errorf("failed to send payment email for order %s: %w", p.OrderID, err)
	}
	n.logger.Info("Payment email sent", zap.String("order_id", p.OrderID))
	return nil
}
