// Package tokenizer exchanges raw card details for an opaque token so that no
// card number is ever stored or forwarded by the service.
package tokenizer

import (
	"context"
	"errors"

	"github.com/familyfund/backend/internal/config"
	"github.com/familyfund/backend/internal/models"
)

var (
	ErrInvalidCardData    = errors.New("invalid card data")
	ErrGatewayUnavailable = errors.New("tokenization service unavailable")
)

// CardDetails is the raw card as typed by the user. Callers must not log or
// persist it.
type CardDetails struct {
	Number   string `json:"cardNumber" validate:"required"`
	Expiry   string `json:"expiry" validate:"required"` // MMYY
	CVV      string `json:"cvv" validate:"required"`
	HolderID string `json:"holderId,omitempty" validate:"omitempty,max=20"`
}

// Wipe drops the raw fields.
func (c *CardDetails) Wipe() {
	c.Number = ""
	c.CVV = ""
	c.Expiry = ""
	c.HolderID = ""
}

type Tokenizer interface {
	Tokenize(ctx context.Context, card CardDetails) (models.CardToken, error)
}

// New builds the configured tokenizer. The vault is returned as well in
// sandbox mode so the sandbox gateway can read card numbers out of its tokens;
// it is nil for the HTTP client.
func New(cfg config.TokenizerConfig) (Tokenizer, *Vault, error) {
	if cfg.Mode == "http" {
		return NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil, nil
	}
	vault, err := NewVault(VaultConfig{Secret: cfg.VaultSecret, Salt: cfg.VaultSalt})
	if err != nil {
		return nil, nil, err
	}
	return vault, vault, nil
}
