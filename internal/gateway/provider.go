// Package gateway implements the payment provider boundary over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultpay/backend/internal/models"
	"github.com/vaultpay/backend/internal/services"
)

// Client talks to the provider network's REST API. It is slow and fallible by
// nature; callers translate its errors into transaction failure compensation.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ services.ProviderGateway = (*Client)(nil)

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type paymentIntentResponse struct {
	ID             string `json:"id"`
	RequiresAction bool   `json:"requires_action"`
	ActionURL      string `json:"action_url"`
	FeeAmount      *int64 `json:"fee_amount"`
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req services.CreatePaymentIntentRequest) (*services.PaymentIntent, error) {
	body := map[string]any{
		"reference_id":   req.TransactionID.String(),
		"amount":         req.Amount.Amount().String(),
		"currency":       req.Amount.Currency(),
		"payment_method": req.PaymentMethodID,
	}
	var resp paymentIntentResponse
	if err := c.post(ctx, "/v1/payment_intents", body, &resp); err != nil {
		return nil, err
	}

	intent := &services.PaymentIntent{
		ExternalID:     models.ExternalReference(resp.ID),
		RequiresAction: resp.RequiresAction,
		ActionURL:      resp.ActionURL,
		Fee:            models.ZeroMoney(req.Amount.Currency()),
	}
	if resp.FeeAmount != nil {
		fee, err := models.MoneyFromInt64(*resp.FeeAmount, req.Amount.Currency())
		if err != nil {
			return nil, fmt.Errorf("provider returned invalid fee: %w", err)
		}
		intent.Fee = fee
	}
	return intent, nil
}

type transferResponse struct {
	ID string `json:"id"`
}

func (c *Client) InitiateTransfer(ctx context.Context, req services.InitiateProviderTransferRequest) (*services.ProviderTransfer, error) {
	body := map[string]any{
		"reference_id":   req.TransactionID.String(),
		"amount":         req.Amount.Amount().String(),
		"currency":       req.Amount.Currency(),
		"payment_method": req.PaymentMethodID,
	}
	var resp transferResponse
	if err := c.post(ctx, "/v1/transfers", body, &resp); err != nil {
		return nil, err
	}
	return &services.ProviderTransfer{ExternalID: models.ExternalReference(resp.ID)}, nil
}

func (c *Client) CancelTransfer(ctx context.Context, provider models.ProviderCode, externalID models.ExternalReference) error {
	return c.post(ctx, "/v1/transfers/"+externalID.String()+"/cancel", map[string]any{}, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("provider rejected request", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return nil
}
