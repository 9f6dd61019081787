package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/services"
)

func TestInvitationHandler_Send_RequiresAuth(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", `{}`, uuid.Nil))
	assertErrorResponse(t, rr, http.StatusUnauthorized, "Authentication required")
}

func TestInvitationHandler_Send_InvalidBody(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{SendFunc: func(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error) {
		t.Fatal("Send should not be called for invalid body")
		return nil, nil
	}}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", `{`, uuid.New()))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Invalid request body")
}

func TestInvitationHandler_Send_InvalidIDs(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", `{"receiver_id":"nope"}`, uuid.New()))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Invalid receiver ID")

	body := fmt.Sprintf(`{"receiver_id":%q,"event_id":"nope"}`, uuid.NewString())
	rr = httptest.NewRecorder()
	handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", body, uuid.New()))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Invalid event ID")
}

func TestInvitationHandler_Send_UnknownReceiver(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{SendFunc: func(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error) {
		t.Fatal("Send should not be called for unknown users")
		return nil, nil
	}}, &mockUserService{ExistsFunc: func(ctx context.Context, id uuid.UUID) (bool, error) {
		return false, nil
	}})

	body := fmt.Sprintf(`{"receiver_id":%q,"activity_label":"coffee"}`, uuid.NewString())
	rr := httptest.NewRecorder()
	handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", body, uuid.New()))
	assertErrorResponse(t, rr, http.StatusNotFound, "User not found")
}

func TestInvitationHandler_Send_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"self", services.ErrCannotInviteSelf, http.StatusBadRequest, "Cannot invite yourself"},
		{"label", services.ErrActivityLabelTooLong, http.StatusBadRequest, "Activity label is too long"},
		{"duplicate", services.ErrDuplicateInvitation, http.StatusConflict, "Invitation already exists"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInvitationHandler(&mockInvitationService{SendFunc: func(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error) {
				return nil, fmt.Errorf("wrapped: %w", tt.err)
			}}, &mockUserService{})

			body := fmt.Sprintf(`{"receiver_id":%q,"activity_label":"coffee"}`, uuid.NewString())
			rr := httptest.NewRecorder()
			handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", body, uuid.New()))
			assertErrorResponse(t, rr, tt.status, tt.message)
		})
	}
}

func TestInvitationHandler_Send_Success(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()
	eventID := uuid.New()
	var got models.CreateInvitationParams
	handler := NewInvitationHandler(&mockInvitationService{SendFunc: func(ctx context.Context, params models.CreateInvitationParams) (*models.Invitation, error) {
		got = params
		return &models.Invitation{ID: uuid.New(), SenderID: params.SenderID, ReceiverID: params.ReceiverID, Status: models.InvitationStatusPending}, nil
	}}, &mockUserService{})

	body := fmt.Sprintf(`{"receiver_id":%q,"activity_label":"coffee","event_id":%q}`, receiver, eventID)
	rr := httptest.NewRecorder()
	handler.Send(rr, newRequest(http.MethodPost, "/api/invitations", body, sender))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d", rr.Code)
	}
	if got.SenderID != sender || got.ReceiverID != receiver || got.ActivityLabel != "coffee" {
		t.Fatalf("unexpected params: %+v", got)
	}
	if got.EventID == nil || *got.EventID != eventID {
		t.Fatalf("expected event id %s, got %v", eventID, got.EventID)
	}

	var resp InvitationResponse
	decodeJSON(t, rr, &resp)
	if resp.Invitation == nil || resp.Invitation.Status != models.InvitationStatusPending {
		t.Fatalf("expected pending invitation in response, got %+v", resp.Invitation)
	}
}

func TestInvitationHandler_Accept_InvalidID(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{AcceptFunc: func(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error) {
		t.Fatal("Accept should not be called for invalid id")
		return nil, nil
	}}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.Accept(rr, newRequest(http.MethodPost, "/api/invitations/bad/accept", "", uuid.New(), "id", "bad"))
	assertErrorResponse(t, rr, http.StatusBadRequest, "Invalid invitation ID")
}

func TestInvitationHandler_Accept_Success(t *testing.T) {
	userID := uuid.New()
	invitationID := uuid.New()
	handler := NewInvitationHandler(&mockInvitationService{AcceptFunc: func(ctx context.Context, uid, iid uuid.UUID) (*models.Invitation, error) {
		if uid != userID || iid != invitationID {
			t.Fatalf("unexpected ids %s %s", uid, iid)
		}
		return &models.Invitation{ID: iid, Status: models.InvitationStatusAccepted}, nil
	}}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.Accept(rr, newRequest(http.MethodPost, "/api/invitations/x/accept", "", userID, "id", invitationID.String()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", rr.Code)
	}

	var resp InvitationResponse
	decodeJSON(t, rr, &resp)
	if resp.Message != "Invitation accepted" || resp.Invitation.Status != models.InvitationStatusAccepted {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInvitationHandler_Resolve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", services.ErrInvitationNotFound, http.StatusNotFound, "Invitation not found"},
		{"not recipient", services.ErrNotInvitationRecipient, http.StatusForbidden, "Not allowed"},
		{"already resolved", services.ErrAlreadyResolved, http.StatusConflict, "Invitation already resolved"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInvitationHandler(&mockInvitationService{DeclineFunc: func(ctx context.Context, userID, invitationID uuid.UUID) (*models.Invitation, error) {
				return nil, tt.err
			}}, &mockUserService{})

			rr := httptest.NewRecorder()
			handler.Decline(rr, newRequest(http.MethodPost, "/api/invitations/x/decline", "", uuid.New(), "id", uuid.NewString()))
			assertErrorResponse(t, rr, tt.status, tt.message)
		})
	}
}

func TestInvitationHandler_Cancel(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{CancelFunc: func(ctx context.Context, userID, invitationID uuid.UUID) error {
		return services.ErrNotInvitationSender
	}}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.Cancel(rr, newRequest(http.MethodDelete, "/api/invitations/x", "", uuid.New(), "id", uuid.NewString()))
	assertErrorResponse(t, rr, http.StatusForbidden, "Not allowed")

	handler = NewInvitationHandler(&mockInvitationService{}, &mockUserService{})
	rr = httptest.NewRecorder()
	handler.Cancel(rr, newRequest(http.MethodDelete, "/api/invitations/x", "", uuid.New(), "id", uuid.NewString()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", rr.Code)
	}
}

func TestInvitationHandler_List(t *testing.T) {
	userID := uuid.New()
	handler := NewInvitationHandler(&mockInvitationService{
		ListPendingFunc: func(ctx context.Context, receiverID uuid.UUID) ([]models.PendingInvitation, error) {
			return []models.PendingInvitation{{Invitation: models.Invitation{ID: uuid.New(), ReceiverID: receiverID}}}, nil
		},
		ListConnectionsFunc: func(ctx context.Context, uid uuid.UUID) ([]models.Connection, error) {
			return []models.Connection{{InvitationID: uuid.New()}}, nil
		},
	}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.List(rr, newRequest(http.MethodGet, "/api/invitations", "", userID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", rr.Code)
	}

	var resp InvitationListResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Pending) != 1 || len(resp.Connections) != 1 || len(resp.Sent) != 0 {
		t.Fatalf("unexpected lists %+v", resp)
	}
	if strings.Contains(rr.Body.String(), `"sent"`) {
		t.Fatalf("expected empty sent list to be omitted: %s", rr.Body.String())
	}
}

func TestInvitationHandler_List_Error(t *testing.T) {
	handler := NewInvitationHandler(&mockInvitationService{ListSentFunc: func(ctx context.Context, senderID uuid.UUID) ([]models.Invitation, error) {
		return nil, errors.New("db down")
	}}, &mockUserService{})

	rr := httptest.NewRecorder()
	handler.List(rr, newRequest(http.MethodGet, "/api/invitations", "", uuid.New()))
	assertErrorResponse(t, rr, http.StatusInternalServerError, "Internal server error")
}
