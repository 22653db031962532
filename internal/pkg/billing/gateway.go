package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/env"
	"github.com/google/uuid"
)

// CreateSubscriptionInput is the provider-neutral input for creating an
// external subscription. Notes are round-tripped by the provider and come
// back on webhook events.
type CreateSubscriptionInput struct {
	PlanID     string
	TotalCount int
	Notes      map[string]string
}

// GatewaySubscription is the provider's subscription object as returned by
// its management API.
type GatewaySubscription struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	Notes        map[string]string `json:"notes"`
}

// GatewayInvoice is the provider's invoice object.
type GatewayInvoice struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	Amount         int64  `json:"amount"`
	Status         string `json:"status"`
	PaidAt         int64  `json:"paid_at"`
}

// GatewayClient is the narrow adapter over the external billing provider.
// The state machine never talks to the provider API directly, which keeps the
// provider swappable.
type GatewayClient interface {
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, externalID string) error
	PauseSubscription(ctx context.Context, externalID string) error
	ResumeSubscription(ctx context.Context, externalID string) error
	FetchInvoice(ctx context.Context, invoiceID string) (*GatewayInvoice, error)
}

const defaultGatewayBaseURL = "https://api.paygate.example.com/v1"

// HTTPGateway talks to the provider's REST API with basic auth.
type HTTPGateway struct {
	BaseURL   string
	KeyID     string
	KeySecret string

	HTTPClient *http.Client
}

// NewHTTPGatewayFromEnv builds the gateway adapter from environment config.
func NewHTTPGatewayFromEnv() *HTTPGateway {
	return &HTTPGateway{
		BaseURL:   strings.TrimRight(env.GetEnv("BILLING_API_BASE_URL", defaultGatewayBaseURL), "/"),
		KeyID:     strings.TrimSpace(env.GetEnv("BILLING_KEY_ID", "")),
		KeySecret: strings.TrimSpace(env.GetEnv("BILLING_KEY_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (g *HTTPGateway) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*GatewaySubscription, error) {
	if strings.TrimSpace(in.PlanID) == "" {
		return nil, NewValidationError("plan id is required")
	}
	totalCount := in.TotalCount
	if totalCount <= 0 {
		totalCount = 12
	}

	reqBody := map[string]interface{}{
		"plan_id":         in.PlanID,
		"total_count":     totalCount,
		"customer_notify": 1,
		"receipt":         uuid.NewString(),
	}
	if len(in.Notes) > 0 {
		reqBody["notes"] = in.Notes
	}

	var out GatewaySubscription
	if err := g.do(ctx, http.MethodPost, "/subscriptions", reqBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, NewGatewayError(http.StatusBadGateway, "provider returned no subscription id", nil)
	}
	return &out, nil
}

func (g *HTTPGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return NewValidationError("subscription id is required")
	}
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/subscriptions/%s/cancel", externalID), nil, nil)
}

func (g *HTTPGateway) PauseSubscription(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return NewValidationError("subscription id is required")
	}
	body := map[string]interface{}{"pause_at": "now"}
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/subscriptions/%s/pause", externalID), body, nil)
}

func (g *HTTPGateway) ResumeSubscription(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return NewValidationError("subscription id is required")
	}
	body := map[string]interface{}{"resume_at": "now"}
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/subscriptions/%s/resume", externalID), body, nil)
}

func (g *HTTPGateway) FetchInvoice(ctx context.Context, invoiceID string) (*GatewayInvoice, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, NewValidationError("invoice id is required")
	}
	var out GatewayInvoice
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/invoices/%s", invoiceID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes one provider API round trip and classifies failures into the
// typed taxonomy: 4xx bad request, network unavailable, everything else
// unknown.
func (g *HTTPGateway) do(ctx context.Context, method, path string, reqBody interface{}, out interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.KeyID, g.KeySecret)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatusError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewGatewayError(http.StatusBadGateway, "provider returned malformed response", err)
		}
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return NewGatewayError(http.StatusServiceUnavailable, "billing provider unreachable", err)
	}
	return NewGatewayError(http.StatusBadGateway, "billing provider request failed", err)
}

func classifyStatusError(status int, body []byte) error {
	// Provider error bodies carry internals we never surface to end users.
	cause := fmt.Errorf("provider status=%d body=%s", status, string(body))
	if status >= 400 && status < 500 {
		return NewGatewayError(http.StatusBadRequest, "billing provider rejected the request", cause)
	}
	return NewGatewayError(http.StatusBadGateway, "billing provider error", cause)
}
