package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox card endings with scripted outcomes.
const (
	SandboxDeclineLast4 = "0002"
	// The charge is taken but the first response is lost.
	SandboxTimeoutLast4 = "0119"
	// The request is lost before the processor sees it.
	SandboxDroppedLast4 = "0127"
)

// CardResolver returns the last four digits behind a token.
type CardResolver func(token string) (string, error)

type sandboxCharge struct {
	req      ChargeRequest
	result   ChargeResult
	refunded bool
	calls    int
}

// Sandbox is an in-memory processor that honors idempotency keys the way a
// real one does. It is safe for concurrent use.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]*sandboxCharge // by idempotency key
	byRef   map[string]*sandboxCharge
	resolve CardResolver
}

func NewSandbox(resolve CardResolver) *Sandbox {
	if resolve == nil {
		resolve = func(token string) (string, error) {
			if len(token) < 4 {
				return "", fmt.Errorf("token too short")
			}
			return token[len(token)-4:], nil
		}
	}
	return &Sandbox{
		charges: make(map[string]*sandboxCharge),
		byRef:   make(map[string]*sandboxCharge),
		resolve: resolve,
	}
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return ChargeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ChargeResult{Status: StatusIndeterminate, Message: err.Error()}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.charges[req.IdempotencyKey]; ok {
		existing.calls++
		if existing.req.Amount != req.Amount || existing.req.Currency != req.Currency {
			return ChargeResult{Status: StatusDeclined, Message: "idempotency key reused with different parameters"}, nil
		}
		return existing.result, nil
	}

	last4, err := s.resolve(req.Token)
	if err != nil {
		return ChargeResult{Status: StatusDeclined, Message: "card token not recognized"}, nil
	}

	switch last4 {
	case SandboxDroppedLast4:
		// Nothing recorded: Status will report not found.
		return ChargeResult{Status: StatusIndeterminate, Message: "sandbox: request lost"}, nil
	case SandboxDeclineLast4:
		charge := &sandboxCharge{req: req, calls: 1, result: ChargeResult{Status: StatusDeclined, Message: "card declined"}}
		s.charges[req.IdempotencyKey] = charge
		return charge.result, nil
	}

	ref := "ch_" + uuid.NewString()
	charge := &sandboxCharge{req: req, calls: 1, result: ChargeResult{Status: StatusSucceeded, ExternalRef: ref}}
	s.charges[req.IdempotencyKey] = charge
	s.byRef[ref] = charge

	if last4 == SandboxTimeoutLast4 {
		return ChargeResult{Status: StatusIndeterminate, Message: "sandbox: response lost"}, nil
	}
	return charge.result, nil
}

func (s *Sandbox) Status(ctx context.Context, idempotencyKey string) (ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.charges[idempotencyKey]
	if !ok {
		return ChargeResult{Status: StatusNotFound}, nil
	}
	return charge.result, nil
}

func (s *Sandbox) Refund(ctx context.Context, externalRef string, amount int64, idempotencyKey string) (RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.byRef[externalRef]
	if !ok {
		return RefundResult{}, fmt.Errorf("%w: unknown charge %s", ErrRefundFailed, externalRef)
	}
	if amount <= 0 || amount > charge.req.Amount {
		return RefundResult{}, fmt.Errorf("%w: amount %d out of range", ErrRefundFailed, amount)
	}
	charge.refunded = true
	return RefundResult{RefundRef: "re_" + externalRef, Status: "succeeded"}, nil
}

// Calls reports how many Charge calls reached the processor for key.
func (s *Sandbox) Calls(idempotencyKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if charge, ok := s.charges[idempotencyKey]; ok {
		return charge.calls
	}
	return 0
}

// Refunded reports whether the charge with externalRef was refunded.
func (s *Sandbox) Refunded(externalRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	charge, ok := s.byRef[externalRef]
	return ok && charge.refunded
}
