package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPProcessor talks to a REST payment provider. A request that times out or
// returns a 5xx yields a transient Error; 4xx responses carry the provider's
// rejection code and are permanent.
type HTTPProcessor struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProcessor returns a processor client with the given base URL.
// timeout caps each call; zero means the 30s default.
func NewHTTPProcessor(baseURL string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProcessor{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ Processor = (*HTTPProcessor)(nil)

type holdRequest struct {
	AccountRef  string `json:"account_ref"`
	AmountCents int64  `json:"amount_cents"`
}

type transferRequest struct {
	DestRef     string `json:"dest_ref"`
	AmountCents int64  `json:"amount_cents"`
}

type reverseRequest struct {
	HoldRef string `json:"hold_ref"`
}

type processorResponse struct {
	Ref     string `json:"ref"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *HTTPProcessor) PlaceHold(ctx context.Context, accountRef string, amountCents int64, idemKey string) (string, error) {
	return p.post(ctx, "/v1/holds", holdRequest{AccountRef: accountRef, AmountCents: amountCents}, idemKey)
}

func (p *HTTPProcessor) ReleaseTransfer(ctx context.Context, destRef string, amountCents int64, idemKey string) (string, error) {
	return p.post(ctx, "/v1/transfers", transferRequest{DestRef: destRef, AmountCents: amountCents}, idemKey)
}

func (p *HTTPProcessor) ReverseHold(ctx context.Context, holdRef string, idemKey string) (string, error) {
	return p.post(ctx, "/v1/refunds", reverseRequest{HoldRef: holdRef}, idemKey)
}

func (p *HTTPProcessor) post(ctx context.Context, path string, payload any, idemKey string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal processor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create processor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are transient: the idempotency
		// key makes the retried call safe.
		return "", &Error{Code: "network_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	var out processorResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&out); decodeErr != nil && resp.StatusCode < 300 {
		return "", &Error{Code: "bad_response", Message: decodeErr.Error()}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out.Ref, nil
	case resp.StatusCode >= 500:
		return "", &Error{Code: nonEmpty(out.Code, "server_error"), Message: out.Message}
	default:
		return "", &Error{Code: nonEmpty(out.Code, "rejected"), Message: out.Message, Permanent: true}
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
