package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HammerMeetNail/nearby/internal/conversation"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/mute"
	"github.com/HammerMeetNail/nearby/internal/services"
	"github.com/HammerMeetNail/nearby/internal/unread"
)

// InboxHandler serves the unified inbox to clients that are not connected
// over the websocket, and edits the persisted mute list.
type InboxHandler struct {
	invitations services.InvitationServiceInterface
	rooms       services.EventRoomServiceInterface
	messages    services.MessageServiceInterface
	mutes       mute.Backend
	publisher   mute.Publisher
}

func NewInboxHandler(invitations services.InvitationServiceInterface, rooms services.EventRoomServiceInterface, messages services.MessageServiceInterface, mutes mute.Backend) *InboxHandler {
	return &InboxHandler{
		invitations: invitations,
		rooms:       rooms,
		messages:    messages,
		mutes:       mutes,
	}
}

type InboxResponse struct {
	Items       []models.ConversationItem `json:"items"`
	TotalUnread int                       `json:"total_unread"`
}

type MuteListResponse struct {
	Mutes []models.MuteEntry `json:"mutes"`
}

type SetMuteRequest struct {
	Muted bool `json:"muted"`
}

type inboxBadges struct {
	unread *unread.Aggregator
	mutes  *mute.Store
}

func (b inboxBadges) Count(thread models.ThreadRef) int    { return b.unread.Count(thread) }
func (b inboxBadges) IsMuted(thread models.ThreadRef) bool { return b.mutes.IsMuted(thread) }

func (h *InboxHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	mutes := mute.NewStore(userID, h.mutes)
	if err := mutes.Load(r.Context()); err != nil {
		logging.Warn("Serving inbox without persisted mutes", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
	}

	counts, err := h.messages.UnreadCounts(r.Context(), userID)
	if err != nil {
		logging.Error("Error loading unread counts", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	agg := unread.New(userID, mutes)
	agg.Seed(counts)

	inbox := conversation.NewUnifier(userID, h.invitations, h.rooms, h.messages, inboxBadges{unread: agg, mutes: mutes})
	if err := inbox.Refresh(r.Context()); err != nil {
		logging.Error("Error building inbox", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, InboxResponse{
		Items:       inbox.Items(),
		TotalUnread: agg.Total(inbox.PendingCount()),
	})
}

func (h *InboxHandler) ListMutes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	store := mute.NewStore(userID, h.mutes)
	if err := store.Load(r.Context()); err != nil {
		logging.Error("Error loading mutes", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MuteListResponse{Mutes: store.Entries()})
}

// SetMuteNotifier makes SetMute announce changes to the user's live sessions.
func (h *InboxHandler) SetMuteNotifier(publisher mute.Publisher) {
	h.publisher = publisher
}

// SetMute persists the flag and announces it to the user's live sessions.
func (h *InboxHandler) SetMute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	thread, err := threadParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid thread")
		return
	}

	var req SetMuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	store := mute.NewStore(userID, h.mutes)
	if h.publisher != nil {
		store.SetPublisher(h.publisher)
	}
	if err := store.SetMuted(r.Context(), thread, req.Muted); err != nil {
		if errors.Is(err, models.ErrInvalidThreadRef) {
			writeError(w, http.StatusBadRequest, "Invalid thread")
			return
		}
		logging.Error("Error saving mute", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, models.MuteEntry{Thread: thread, Muted: req.Muted})
}
