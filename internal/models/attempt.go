package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type AttemptKind string

const (
	AttemptOnboarding AttemptKind = "onboarding"
	AttemptTopUp      AttemptKind = "topup"
)

// AttemptState is the server-side saga state of one charge attempt.
type AttemptState string

const (
	// Client-side states; an attempt record is first written at AwaitingPayment.
	AttemptCollectingInfo      AttemptState = "collecting_info"
	AttemptCollectingRecipient AttemptState = "collecting_recipient"

	AttemptAwaitingPayment       AttemptState = "awaiting_payment"
	AttemptCharging              AttemptState = "charging"
	AttemptCommitting            AttemptState = "committing"
	AttemptCommitted             AttemptState = "committed"
	AttemptFailed                AttemptState = "failed"
	AttemptPendingReconciliation AttemptState = "pending_reconciliation"
	AttemptRefunded              AttemptState = "refunded"
)

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptCollectingInfo:        {AttemptCollectingRecipient, AttemptAwaitingPayment, AttemptFailed},
	AttemptCollectingRecipient:   {AttemptAwaitingPayment, AttemptFailed},
	AttemptAwaitingPayment:       {AttemptCharging, AttemptFailed},
	AttemptCharging:              {AttemptCommitting, AttemptAwaitingPayment, AttemptPendingReconciliation, AttemptFailed},
	AttemptCommitting:            {AttemptCommitted, AttemptPendingReconciliation},
	AttemptPendingReconciliation: {AttemptCommitting, AttemptCommitted, AttemptAwaitingPayment, AttemptRefunded, AttemptFailed},
}

// CanTransition reports whether the saga may move from s to next.
func (s AttemptState) CanTransition(next AttemptState) bool {
	for _, allowed := range attemptTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return len(attemptTransitions[s]) == 0
}

// Charged reports whether the gateway is known to hold a succeeded charge that
// the ledger may not yet reflect.
func (s AttemptState) Charged() bool {
	return s == AttemptCommitting
}

// ChargeAttempt is the durable record of one user payment action. Its ID is the
// client-generated attempt id; together with ChargeSeq it forms the gateway
// idempotency key.
type ChargeAttempt struct {
	ID            string          `json:"id" db:"id"`
	Kind          AttemptKind     `json:"kind" db:"kind"`
	State         AttemptState    `json:"state" db:"state"`
	ActingUserID  string          `json:"actingUserId" db:"acting_user_id"`
	GroupID       string          `json:"groupId,omitempty" db:"group_id"`
	FundID        string          `json:"fundId,omitempty" db:"fund_id"`
	Amount        int64           `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	ChargeSeq     int             `json:"chargeSeq" db:"charge_seq"`
	ExternalRef   string          `json:"externalRef,omitempty" db:"external_ref"`
	MaskedCard    string          `json:"maskedCard,omitempty" db:"masked_card"`
	Payload       *AttemptPayload `json:"payload,omitempty" db:"payload"`
	Metadata      Metadata        `json:"metadata,omitempty" db:"metadata"`
	FailureReason string          `json:"failureReason,omitempty" db:"failure_reason"`
	CommitTries   int             `json:"commitTries" db:"commit_tries"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// IdempotencyKey is the key sent to the gateway for the current charge. It
// changes only when a declined attempt is retried with a new card.
func (a *ChargeAttempt) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", a.ID, a.ChargeSeq)
}

// Transition moves the attempt to next, or fails if the move is not allowed.
func (a *ChargeAttempt) Transition(next AttemptState) error {
	if !a.State.CanTransition(next) {
		return fmt.Errorf("attempt %s: illegal transition %s -> %s", a.ID, a.State, next)
	}
	a.State = next
	return nil
}

// AttemptPayload keeps what a recovery needs to finish an onboarding commit
// without the original request.
type AttemptPayload struct {
	Group             *GroupData     `json:"group,omitempty"`
	Recipient         *RecipientData `json:"recipient,omitempty"`
	AddRecipientLater bool           `json:"addRecipientLater,omitempty"`
}

// Value implements driver.Valuer for AttemptPayload
func (p *AttemptPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for AttemptPayload
func (p *AttemptPayload) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return errors.New("unsupported payload column type")
}
