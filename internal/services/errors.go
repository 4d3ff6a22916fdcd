package services

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("user is not a member of this group")

	ErrAlreadyExists        = errors.New("group already has a fund")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateExternalRef = errors.New("transaction with this external reference already recorded")
	ErrFundFrozen           = errors.New("fund is frozen")
	ErrLedgerInconsistency  = errors.New("ledger balance does not match transaction history")

	ErrGatewayDeclined      = errors.New("payment declined")
	ErrGatewayIndeterminate = errors.New("payment outcome unknown")

	// ErrPartialOnboarding means the card was charged but the group could not
	// be recorded yet. Recovery completes it without charging again.
	ErrPartialOnboarding = errors.New("payment taken, group creation pending")
	// ErrTopUpPending is the top-up counterpart of ErrPartialOnboarding.
	ErrTopUpPending = errors.New("payment taken, deposit pending")

	// ErrDuplicateAttempt accompanies the stored result of an attempt that
	// already completed. Callers treat it as success.
	ErrDuplicateAttempt = errors.New("attempt already completed")
	ErrAttemptConflict  = errors.New("attempt id belongs to a different request")
	ErrAttemptInFlight  = errors.New("attempt is already being processed")
	ErrAttemptClosed    = errors.New("attempt is closed, start a new one")

	// ErrNotRefundable guards the operator refund: only a confirmed charge with
	// no ledger effect can be returned.
	ErrNotRefundable = errors.New("attempt cannot be refunded")
)
