package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/HammerMeetNail/nearby/internal/channel"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/services"
)

type MessageHandler struct {
	messages  services.MessageServiceInterface
	maxLength int
}

func NewMessageHandler(messages services.MessageServiceInterface, maxLength int) *MessageHandler {
	if maxLength <= 0 {
		maxLength = models.MaxMessageLength
	}
	return &MessageHandler{
		messages:  messages,
		maxLength: maxLength,
	}
}

type SendMessageRequest struct {
	Content     string `json:"content"`
	ClientToken string `json:"client_token,omitempty"`
}

type MessageResponse struct {
	Message *models.Message `json:"message"`
}

type MessageListResponse struct {
	Messages []models.Message `json:"messages"`
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	thread, err := threadParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid thread")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}

	messages, err := h.messages.List(r.Context(), userID, thread, limit)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	writeJSON(w, http.StatusOK, MessageListResponse{Messages: messages})
}

// Send is the non-realtime write path. Clients retrying a send reuse client_token.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	thread, err := threadParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid thread")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := channel.ValidateContent(req.Content, h.maxLength); err != nil {
		writeMessageError(w, err)
		return
	}

	msg, err := h.messages.Create(r.Context(), models.CreateMessageParams{
		Thread:      thread,
		SenderID:    userID,
		Content:     req.Content,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		writeMessageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: msg})
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	thread, err := threadParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid thread")
		return
	}

	if err := h.messages.MarkRead(r.Context(), userID, thread, time.Now()); err != nil {
		writeMessageError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeMessageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, channel.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message is empty")
	case errors.Is(err, channel.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, "Message is too long")
	case errors.Is(err, services.ErrInvalidThread):
		writeError(w, http.StatusBadRequest, "Invalid thread")
	case errors.Is(err, services.ErrConnectionTerminated):
		writeError(w, http.StatusForbidden, "Connection terminated")
	case errors.Is(err, services.ErrClientTokenConflict):
		writeError(w, http.StatusConflict, "Client token already used")
	default:
		logging.Error("Error handling message request", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
