// Package handlers exposes the family fund services over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/familyfund/backend/internal/gateway"
	mW "github.com/familyfund/backend/internal/middleware"
	"github.com/familyfund/backend/internal/services"
	"github.com/familyfund/backend/internal/tokenizer"
)

const maxBodyBytes = 1_048_576

// PaymentFailure is the body of a payment request that did not complete.
type PaymentFailure struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	PaymentError bool              `json:"paymentError,omitempty"`
	Pending      bool              `json:"pending,omitempty"`
	AttemptID    string            `json:"attemptId,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// decodeJSON reads exactly one JSON object into dst. The returned error
// wraps services.ErrValidation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", services.ErrValidation)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: request body must only contain a single JSON object", services.ErrValidation)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := mW.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return userID, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writePaymentError answers a failed charge-backed request. Every outcome
// uses the payment body so clients read success and message alone.
func writePaymentError(w http.ResponseWriter, attemptID string, err error) {
	failure := PaymentFailure{AttemptID: attemptID}
	var status int

	switch {
	case errors.Is(err, services.ErrGatewayDeclined):
		status = http.StatusPaymentRequired
		failure.Message = err.Error()
		failure.PaymentError = true
	case errors.Is(err, services.ErrGatewayIndeterminate),
		errors.Is(err, services.ErrPartialOnboarding),
		errors.Is(err, services.ErrTopUpPending):
		slog.Warn("payment outcome pending", "attempt_id", attemptID, "error", err)
		status = http.StatusAccepted
		failure.Message = "Payment is being confirmed. Check the attempt status before retrying."
		failure.Pending = true
	default:
		status, failure.Message = errorStatus(err)
		failure.Details = services.ValidationDetails(err)
	}

	writeJSON(w, status, failure)
}

// writeServiceError answers a failed request that moves no money.
func writeServiceError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	services.SendErrorResponse(w, message, status, err)
}

// errorStatus maps service errors onto an HTTP status and the message shown
// to the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, tokenizer.ErrInvalidCardData):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, tokenizer.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "Card service unavailable, try again"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, services.ErrInsufficientFunds),
		errors.Is(err, services.ErrFundFrozen),
		errors.Is(err, services.ErrAlreadyExists),
		errors.Is(err, services.ErrAttemptInFlight),
		errors.Is(err, services.ErrAttemptConflict),
		errors.Is(err, services.ErrAttemptClosed):
		return http.StatusConflict, err.Error()
	default:
		slog.Error("request failed", "error", err)
		return http.StatusInternalServerError, "Internal server error"
	}
}
