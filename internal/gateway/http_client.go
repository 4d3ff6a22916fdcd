package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to the processor's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeBody struct {
	Token       string `json:"token"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

type chargeResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return ChargeResult{}, err
	}

	payload, err := json.Marshal(chargeBody{
		Token:       req.Token,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/charges", payload)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		slog.Warn("gateway charge transport error", "idempotency_key", req.IdempotencyKey, "error", err)
		return ChargeResult{Status: StatusIndeterminate, Message: "payment processor did not respond"}, nil
	}
	defer resp.Body.Close()

	return c.chargeResult(resp, req.IdempotencyKey), nil
}

func (c *HTTPClient) Status(ctx context.Context, idempotencyKey string) (ChargeResult, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/charges?idempotency_key="+url.QueryEscape(idempotencyKey), nil)
	if err != nil {
		return ChargeResult{}, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("gateway status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ChargeResult{Status: StatusNotFound}, nil
	}
	// A failed lookup says nothing about the charge itself, so only a 2xx
	// body naming a final outcome is an answer.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChargeResult{}, fmt.Errorf("gateway status: processor returned %d", resp.StatusCode)
	}

	var body chargeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return ChargeResult{}, fmt.Errorf("gateway status: unreadable response: %w", err)
	}
	switch ChargeStatus(body.Status) {
	case StatusSucceeded:
		if body.ID == "" {
			return ChargeResult{}, fmt.Errorf("gateway status: succeeded charge without id")
		}
		return ChargeResult{Status: StatusSucceeded, ExternalRef: body.ID, Message: body.Message}, nil
	case StatusDeclined:
		return ChargeResult{Status: StatusDeclined, Message: body.Message}, nil
	default:
		return ChargeResult{Status: StatusIndeterminate, ExternalRef: body.ID, Message: body.Message}, nil
	}
}

func (c *HTTPClient) Refund(ctx context.Context, externalRef string, amount int64, idempotencyKey string) (RefundResult, error) {
	payload, err := json.Marshal(map[string]int64{"amount": amount})
	if err != nil {
		return RefundResult{}, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/charges/"+url.PathEscape(externalRef)+"/refunds", payload)
	if err != nil {
		return RefundResult{}, err
	}
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return RefundResult{}, fmt.Errorf("%w: processor returned %d: %s", ErrRefundFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	return RefundResult{RefundRef: out.ID, Status: out.Status}, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// chargeResult maps a processor response onto the three charge outcomes.
// Anything other than an explicit success or decline is indeterminate.
func (c *HTTPClient) chargeResult(resp *http.Response, key string) ChargeResult {
	var body chargeResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("gateway returned non-final status", "idempotency_key", key, "http_status", resp.StatusCode)
		return ChargeResult{Status: StatusIndeterminate, Message: "payment processor unavailable"}
	case resp.StatusCode == http.StatusPaymentRequired:
		return ChargeResult{Status: StatusDeclined, Message: body.Message}
	case resp.StatusCode >= 400:
		return ChargeResult{Status: StatusDeclined, Message: firstNonEmpty(body.Message, http.StatusText(resp.StatusCode))}
	case decodeErr != nil:
		slog.Warn("gateway response unreadable", "idempotency_key", key, "error", decodeErr)
		return ChargeResult{Status: StatusIndeterminate, Message: "unreadable processor response"}
	}

	switch ChargeStatus(body.Status) {
	case StatusSucceeded:
		if body.ID == "" {
			return ChargeResult{Status: StatusIndeterminate, Message: "processor omitted charge id"}
		}
		return ChargeResult{Status: StatusSucceeded, ExternalRef: body.ID, Message: body.Message}
	case StatusDeclined:
		return ChargeResult{Status: StatusDeclined, Message: body.Message}
	default:
		return ChargeResult{Status: StatusIndeterminate, ExternalRef: body.ID, Message: body.Message}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
