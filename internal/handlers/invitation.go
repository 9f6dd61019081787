package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/services"
)

type InvitationHandler struct {
	invitations services.InvitationServiceInterface
	users       services.UserServiceInterface
}

func NewInvitationHandler(invitations services.InvitationServiceInterface, users services.UserServiceInterface) *InvitationHandler {
	return &InvitationHandler{
		invitations: invitations,
		users:       users,
	}
}

type SendInvitationRequest struct {
	ReceiverID    string  `json:"receiver_id"`
	ActivityLabel string  `json:"activity_label"`
	EventID       *string `json:"event_id,omitempty"`
}

type InvitationResponse struct {
	Invitation *models.Invitation `json:"invitation,omitempty"`
	Message    string             `json:"message,omitempty"`
}

type InvitationListResponse struct {
	Pending     []models.PendingInvitation `json:"pending,omitempty"`
	Sent        []models.Invitation        `json:"sent,omitempty"`
	Connections []models.Connection        `json:"connections,omitempty"`
}

func (h *InvitationHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SendInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid receiver ID")
		return
	}

	var eventID *uuid.UUID
	if req.EventID != nil && *req.EventID != "" {
		id, err := uuid.Parse(*req.EventID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid event ID")
			return
		}
		eventID = &id
	}

	exists, err := h.users.Exists(r.Context(), receiverID)
	if err != nil {
		logging.Error("Error checking invitation receiver", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	inv, err := h.invitations.Send(r.Context(), models.CreateInvitationParams{
		SenderID:      userID,
		ReceiverID:    receiverID,
		ActivityLabel: req.ActivityLabel,
		EventID:       eventID,
	})
	if errors.Is(err, services.ErrCannotInviteSelf) {
		writeError(w, http.StatusBadRequest, "Cannot invite yourself")
		return
	}
	if errors.Is(err, services.ErrActivityLabelTooLong) {
		writeError(w, http.StatusBadRequest, "Activity label is too long")
		return
	}
	if errors.Is(err, services.ErrDuplicateInvitation) {
		writeError(w, http.StatusConflict, "Invitation already exists")
		return
	}
	if err != nil {
		logging.Error("Error sending invitation", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, InvitationResponse{Invitation: inv, Message: "Invitation sent"})
}

func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.invitations.Accept, "Invitation accepted")
}

func (h *InvitationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.invitations.Decline, "Invitation declined")
}

func (h *InvitationHandler) resolve(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error), message string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	invitationID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid invitation ID")
		return
	}

	inv, err := apply(r.Context(), userID, invitationID)
	if err != nil {
		writeInvitationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InvitationResponse{Invitation: inv, Message: message})
}

func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	invitationID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid invitation ID")
		return
	}

	if err := h.invitations.Cancel(r.Context(), userID, invitationID); err != nil {
		writeInvitationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InvitationResponse{Message: "Invitation canceled"})
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	pending, err := h.invitations.ListPending(r.Context(), userID)
	if err != nil {
		logging.Error("Error listing pending invitations", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	sent, err := h.invitations.ListSent(r.Context(), userID)
	if err != nil {
		logging.Error("Error listing sent invitations", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	connections, err := h.invitations.ListConnections(r.Context(), userID)
	if err != nil {
		logging.Error("Error listing connections", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, InvitationListResponse{
		Pending:     pending,
		Sent:        sent,
		Connections: connections,
	})
}

func writeInvitationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvitationNotFound):
		writeError(w, http.StatusNotFound, "Invitation not found")
	case errors.Is(err, services.ErrNotInvitationRecipient), errors.Is(err, services.ErrNotInvitationSender):
		writeError(w, http.StatusForbidden, "Not allowed")
	case errors.Is(err, services.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "Invitation already resolved")
	default:
		logging.Error("Error resolving invitation", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
