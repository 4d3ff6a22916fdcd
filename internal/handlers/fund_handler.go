package handlers

import (
	"errors"
	"net/http"

	"github.com/familyfund/backend/internal/services"
)

const idempotencyHeader = "Idempotency-Key"

type FundHandler struct {
	topUp *services.TopUpService
}

func NewFundHandler(topUp *services.TopUpService) *FundHandler {
	return &FundHandler{topUp: topUp}
}

// AddFunds charges the caller's card and deposits into the group fund
// @Summary Add funds
// @Description Charge a tokenized card and deposit the amount (minor units) into the group fund. The Idempotency-Key header, when present, replaces attemptId.
// @Tags Funds
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Attempt id"
// @Param request body services.TopUpRequest true "Top-up request"
// @Success 200 {object} object{success=bool,amountFromCard=int64,newBalance=int64,transaction=models.Transaction}
// @Success 202 {object} PaymentFailure
// @Failure 400 {object} PaymentFailure
// @Failure 402 {object} PaymentFailure
// @Failure 403 {object} PaymentFailure
// @Failure 409 {object} PaymentFailure
// @Router /funds/add [post]
func (h *FundHandler) AddFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req services.TopUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writePaymentError(w, "", err)
		return
	}
	if key := r.Header.Get(idempotencyHeader); key != "" {
		req.AttemptID = key
	}
	req.UserID = userID
	req.IPAddress = clientIP(r)

	result, err := h.topUp.AddFunds(r.Context(), req)
	replayed := errors.Is(err, services.ErrDuplicateAttempt)
	if err != nil && !replayed {
		writePaymentError(w, req.AttemptID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"amountFromCard": result.AmountFromCard,
		"newBalance":     result.NewBalance,
		"transaction":    result.Transaction,
		"replayed":       replayed,
	})
}
