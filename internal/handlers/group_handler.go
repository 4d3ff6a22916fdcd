package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/services"
)

type GroupHandler struct {
	onboarding *services.OnboardingService
	groups     *services.GroupService
	validator  *services.ValidationHelper
}

func NewGroupHandler(onboarding *services.OnboardingService, groups *services.GroupService) *GroupHandler {
	return &GroupHandler{
		onboarding: onboarding,
		groups:     groups,
		validator:  services.NewValidationHelper(),
	}
}

// CreateGroup finishes onboarding: charges the fee and creates the group with its fund
// @Summary Create group with payment
// @Description Charge the onboarding fee and create the group, its fund and the first deposit. Retrying with the same attemptId never charges twice.
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateGroupRequest true "Onboarding request"
// @Success 201 {object} object{success=bool,group=models.Group,fund=models.Fund,attemptId=string}
// @Success 200 {object} object{success=bool,group=models.Group,fund=models.Fund,attemptId=string,replayed=bool}
// @Success 202 {object} PaymentFailure
// @Failure 400 {object} PaymentFailure
// @Failure 402 {object} PaymentFailure
// @Failure 409 {object} PaymentFailure
// @Router /groups [post]
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req services.CreateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writePaymentError(w, "", err)
		return
	}
	req.UserID = userID
	req.IPAddress = clientIP(r)

	result, err := h.onboarding.CreateGroupWithPayment(r.Context(), req)
	status := http.StatusCreated
	replayed := false
	if errors.Is(err, services.ErrDuplicateAttempt) {
		status, replayed, err = http.StatusOK, true, nil
	}
	if err != nil {
		writePaymentError(w, req.AttemptID, err)
		return
	}

	writeJSON(w, status, map[string]any{
		"success":   true,
		"group":     result.Group,
		"fund":      result.Fund,
		"attemptId": result.Attempt.ID,
		"replayed":  replayed,
	})
}

// GetGroupFund returns the group, its fund and balance
// @Summary Get group fund
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Success 200 {object} object{success=bool,group=models.Group,fund=models.Fund,balanceDisplay=string,recipients=[]models.Recipient,role=string}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /groups/{groupId}/fund [get]
func (h *GroupHandler) GetGroupFund(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.groups.GetGroupFund(r.Context(), userID, chi.URLParam(r, "groupId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"group":          view.Group,
		"fund":           view.Fund,
		"balanceDisplay": models.FormatAmount(view.Fund.Balance, view.Fund.Currency),
		"recipients":     view.Recipients,
		"role":           view.Role,
	})
}

// ListTransactions pages through the fund history, newest first
// @Summary List fund transactions
// @Tags Groups
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param cursor query string false "Cursor from a previous page"
// @Param limit query int false "Page size"
// @Success 200 {object} object{success=bool,transactions=[]models.Transaction,nextCursor=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /groups/{groupId}/transactions [get]
func (h *GroupHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	page, err := h.groups.ListTransactions(r.Context(), userID, chi.URLParam(r, "groupId"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": page.Transactions,
		"nextCursor":   page.NextCursor,
	})
}

// AddRecipient sets the delivery recipient of a group
// @Summary Add recipient
// @Tags Groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param request body models.RecipientData true "Recipient"
// @Success 201 {object} object{success=bool,recipient=models.Recipient}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /groups/{groupId}/recipients [post]
func (h *GroupHandler) AddRecipient(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.RecipientData
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	recipient, err := h.groups.AddRecipient(r.Context(), userID, chi.URLParam(r, "groupId"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"recipient": recipient,
	})
}
