package handlers

import (
	"net/http"

	"github.com/familyfund/backend/internal/services"
	"github.com/familyfund/backend/internal/tokenizer"
)

type TokenizeHandler struct {
	tokenizer tokenizer.Tokenizer
	validator *services.ValidationHelper
}

func NewTokenizeHandler(t tokenizer.Tokenizer) *TokenizeHandler {
	return &TokenizeHandler{
		tokenizer: t,
		validator: services.NewValidationHelper(),
	}
}

// Tokenize exchanges raw card details for a payment token
// @Summary Tokenize card
// @Description Exchange raw card details for a single-use payment token. Card data is never stored.
// @Tags Cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body tokenizer.CardDetails true "Card details"
// @Success 200 {object} models.CardToken
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /tokenize [post]
func (h *TokenizeHandler) Tokenize(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	var card tokenizer.CardDetails
	defer card.Wipe()

	if err := decodeJSON(w, r, &card); err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.validator.ValidateStruct(&card); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	token, err := h.tokenizer.Tokenize(r.Context(), card)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, token)
}
