package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"reconciler/internal/domain"
)

const razorpayAPIBase = "https://api.razorpay.com/v1"

// RazorpayGateway creates Payment Links. The order id is sent as
// reference_id, which Razorpay echoes back in payment_link webhooks.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	apiBase   string
	client    *http.Client
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{
		keyID:     keyID,
		keySecret: keySecret,
		apiBase:   razorpayAPIBase,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *RazorpayGateway) WithBaseURL(url string) *RazorpayGateway {
	g.apiBase = url
	return g
}

type razorpayLinkRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	ReferenceID string            `json:"reference_id"`
	Description string            `json:"description,omitempty"`
	Customer    *razorpayCustomer `json:"customer,omitempty"`
	Notify      map[string]bool   `json:"notify,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

type razorpayCustomer struct {
	Email string `json:"email"`
}

type razorpayLinkResponse struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	body := razorpayLinkRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReferenceID: req.OrderID,
		Description: req.Description,
		Notes:       map[string]string{"userId": req.UserID},
	}
	if req.UserEmail != "" {
		body.Customer = &razorpayCustomer{Email: req.UserEmail}
		body.Notify = map[string]bool{"email": true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal razorpay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/payment_links", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build razorpay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: razorpay request for order %s: %v", domain.ErrGatewayFailure, req.OrderID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading razorpay response: %v", domain.ErrGatewayFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr razorpayErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		return nil, fmt.Errorf("%w: razorpay returned %d: %s %s",
			domain.ErrGatewayFailure, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}

	var link razorpayLinkResponse
	if err := json.Unmarshal(respBody, &link); err != nil {
		return nil, fmt.Errorf("%w: decoding razorpay response: %v", domain.ErrGatewayFailure, err)
	}
	return &LinkResult{
		ExternalRef: link.ID,
		URL:         link.ShortURL,
		Status:      link.Status,
	}, nil
}
