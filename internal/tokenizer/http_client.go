package tokenizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/familyfund/backend/internal/models"
)

// HTTPClient forwards card details to the external tokenization service after
// the local format checks pass.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

func (c *HTTPClient) Tokenize(ctx context.Context, card CardDetails) (models.CardToken, error) {
	defer card.Wipe()

	if err := Validate(card, c.now()); err != nil {
		return models.CardToken{}, err
	}

	payload, err := json.Marshal(map[string]string{
		"cardNumber": NormalizeNumber(card.Number),
		"expiry":     NormalizeExpiry(card.Expiry),
		"cvv":        card.CVV,
		"holderId":   card.HolderID,
	})
	if err != nil {
		return models.CardToken{}, fmt.Errorf("%w: %v", ErrInvalidCardData, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tokens", bytes.NewReader(payload))
	if err != nil {
		return models.CardToken{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return models.CardToken{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return models.CardToken{}, fmt.Errorf("%w: %s", ErrInvalidCardData, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return models.CardToken{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var token models.CardToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return models.CardToken{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if token.Token == "" {
		return models.CardToken{}, fmt.Errorf("%w: empty token", ErrGatewayUnavailable)
	}
	return token, nil
}
