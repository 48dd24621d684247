package domain

import "errors"

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentAlreadyExists  = errors.New("active payment already exists for order")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrPaymentTerminal       = errors.New("payment is in a terminal state")
	ErrEventAlreadyProcessed = errors.New("event already processed")
	ErrUnsupportedProvider   = errors.New("unsupported payment provider")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrRetryTaskNotFound     = errors.New("retry task not found")
	ErrGatewayFailure        = errors.New("payment gateway request failed")
)
