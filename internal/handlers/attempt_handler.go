package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/familyfund/backend/internal/services"
)

type AttemptHandler struct {
	groups *services.GroupService
}

func NewAttemptHandler(groups *services.GroupService) *AttemptHandler {
	return &AttemptHandler{groups: groups}
}

// GetAttempt reports where a payment attempt stands
// @Summary Get payment attempt
// @Description Clients poll this after a pending response instead of retrying the payment.
// @Tags Funds
// @Produce json
// @Security BearerAuth
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} object{success=bool,attempt=models.ChargeAttempt}
// @Failure 404 {object} services.ErrorResponse
// @Router /attempts/{attemptId} [get]
func (h *AttemptHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	attempt, err := h.groups.GetAttempt(r.Context(), userID, chi.URLParam(r, "attemptId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"attempt": attempt,
	})
}
