// Package gateway is the client side of the external card processor.
//
// A charge has three outcomes. Succeeded and Declined are final. Indeterminate
// means the request may or may not have reached the processor; callers must
// not assume either and should confirm with Status using the same
// idempotency key.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/familyfund/backend/internal/config"
)

type ChargeStatus string

const (
	StatusSucceeded     ChargeStatus = "succeeded"
	StatusDeclined      ChargeStatus = "declined"
	StatusIndeterminate ChargeStatus = "indeterminate"
	// StatusNotFound is only returned by Status: the processor has no charge
	// for the key, so nothing was taken.
	StatusNotFound ChargeStatus = "not_found"
)

var (
	ErrInvalidRequest = errors.New("invalid charge request")
	ErrRefundFailed   = errors.New("refund failed")
)

type ChargeRequest struct {
	Token          string
	Amount         int64 // minor units
	Currency       string
	IdempotencyKey string
	Description    string
}

// Validate checks the request before anything leaves the process.
func (r ChargeRequest) Validate() error {
	switch {
	case r.Token == "":
		return errors.Join(ErrInvalidRequest, errors.New("token is required"))
	case r.Amount <= 0:
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	case len(r.Currency) != 3:
		return errors.Join(ErrInvalidRequest, errors.New("currency must be an ISO 4217 code"))
	case r.IdempotencyKey == "":
		return errors.Join(ErrInvalidRequest, errors.New("idempotency key is required"))
	}
	return nil
}

type ChargeResult struct {
	Status      ChargeStatus `json:"status"`
	ExternalRef string       `json:"externalRef,omitempty"`
	Message     string       `json:"message,omitempty"`
}

type RefundResult struct {
	RefundRef string `json:"refundRef"`
	Status    string `json:"status"`
}

// Gateway charges tokenized cards.
//
// Charge returns an error only when the request was rejected locally and
// never sent. Every network or processor failure after sending is reported
// as StatusIndeterminate with a nil error.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Status(ctx context.Context, idempotencyKey string) (ChargeResult, error)
	Refund(ctx context.Context, externalRef string, amount int64, idempotencyKey string) (RefundResult, error)
}

// New returns the HTTP client when cfg.Mode is "http" and a sandbox otherwise.
// resolve is only used by the sandbox.
func New(cfg config.GatewayConfig, resolve CardResolver) Gateway {
	if cfg.Mode == "http" {
		return NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	}
	slog.Warn("using sandbox payment gateway; no real charges are made")
	return NewSandbox(resolve)
}
