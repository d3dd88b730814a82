// Package settle moves payouts to participants through an external transfer
// gateway and reconciles transfers that failed at settlement time.
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klashbet/wagerpool/internal/crypto"
	"github.com/klashbet/wagerpool/internal/domain"
)

// GatewayClient is the REST client for the transfer gateway. Transfers are
// keyed by a caller-supplied reference (the bet ID) so the gateway can
// deduplicate retried requests on its side.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	auth       *crypto.RequestAuth // nil disables request signing
	httpClient *http.Client
}

// NewGatewayClient creates a transfer gateway client.
//
// baseURL is the gateway API root, e.g. "https://pay.klash.internal".
// auth may be nil; requests are then authenticated with the bearer key only.
func NewGatewayClient(baseURL, apiKey string, auth *crypto.RequestAuth) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transferRequest struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference"`
}

type transferResponse struct {
	Success  bool   `json:"success"`
	TxRef    string `json:"tx_ref"`
	ErrorMsg string `json:"error_msg"`
}

// Transfer requests a payout to the recipient. The returned txRef is the
// gateway's transaction identifier for the completed transfer.
func (c *GatewayClient) Transfer(ctx context.Context, recipient string, amount float64, ref string) (string, error) {
	payload, err := json.Marshal(transferRequest{
		Recipient: recipient,
		Amount:    amount,
		Reference: ref,
	})
	if err != nil {
		return "", fmt.Errorf("settle: marshal transfer %s: %w", ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("settle: build transfer request %s: %w", ref, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", ref)
	if c.auth != nil {
		for k, v := range c.auth.Headers(http.MethodPost, "/transfers", string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("settle: transfer %s: %w", ref, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("settle: read transfer response %s: %w", ref, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("settle: transfer %s: gateway returned %d: %s", ref, resp.StatusCode, body)
	}

	var result transferResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("settle: decode transfer response %s: %w", ref, err)
	}
	if !result.Success {
		return "", fmt.Errorf("settle: transfer %s rejected: %s", ref, result.ErrorMsg)
	}

	return result.TxRef, nil
}

// Compile-time interface check.
var _ domain.Settler = (*GatewayClient)(nil)
