package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HammerMeetNail/nearby/internal/models"
)

func testMessage(thread models.ThreadRef) models.Message {
	return models.Message{
		ID:          uuid.New(),
		ThreadID:    thread,
		SenderID:    uuid.New(),
		Content:     "hello",
		ClientToken: "temp-1",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestEncodeDecode_MessageInserted(t *testing.T) {
	thread := models.ThreadRef{Type: models.ThreadTypeDM, ID: uuid.New()}
	msg := testMessage(thread)

	data, err := Encode(thread, MessageInserted{Message: msg})
	require.NoError(t, err)

	gotThread, ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, thread, gotThread)

	inserted, ok := ev.(MessageInserted)
	require.True(t, ok, "expected MessageInserted, got %T", ev)
	assert.Equal(t, msg.ID, inserted.Message.ID)
	assert.Equal(t, "temp-1", inserted.Message.ClientToken)
	assert.True(t, msg.CreatedAt.Equal(inserted.Message.CreatedAt))
}

func TestEncodeDecode_InvitationChanged(t *testing.T) {
	inv := models.Invitation{
		ID:         uuid.New(),
		SenderID:   uuid.New(),
		ReceiverID: uuid.New(),
		Status:     models.InvitationStatusAccepted,
	}
	thread := models.ThreadRef{Type: models.ThreadTypeDM, ID: inv.ID}

	data, err := Encode(thread, InvitationChanged{Invitation: inv})
	require.NoError(t, err)

	_, ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindInvitationChanged, ev.Kind())
	assert.Equal(t, models.InvitationStatusAccepted, ev.(InvitationChanged).Invitation.Status)
}

func TestEncodeDecode_TypingChanged(t *testing.T) {
	thread := models.ThreadRef{Type: models.ThreadTypeSpot, ID: uuid.New()}
	userID := uuid.New()

	data, err := Encode(thread, TypingChanged{UserID: userID, Typing: true})
	require.NoError(t, err)

	_, ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypingChanged{UserID: userID, Typing: true}, ev)
}

func TestEncodeDecode_MuteChanged(t *testing.T) {
	thread := models.ThreadRef{Type: models.ThreadTypeSpot, ID: uuid.New()}
	userID := uuid.New()

	data, err := Encode(thread, MuteChanged{UserID: userID, Muted: true})
	require.NoError(t, err)

	gotThread, ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, thread, gotThread)
	assert.Equal(t, MuteChanged{UserID: userID, Muted: true}, ev)

	_, err = Encode(thread, MuteChanged{Muted: true})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecode_Rejects(t *testing.T) {
	thread := models.ThreadRef{Type: models.ThreadTypeDM, ID: uuid.New()}
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "not json", raw: "{", wantErr: ErrInvalidEnvelope},
		{name: "bad thread", raw: `{"kind":"typing_changed","thread":"group:1","payload":{}}`, wantErr: ErrInvalidEnvelope},
		{name: "missing payload", raw: `{"kind":"typing_changed","thread":"` + thread.Key() + `"}`, wantErr: ErrInvalidEnvelope},
		{name: "unknown kind", raw: `{"kind":"reaction","thread":"` + thread.Key() + `","payload":{}}`, wantErr: ErrUnknownKind},
		{name: "typing without user", raw: `{"kind":"typing_changed","thread":"` + thread.Key() + `","payload":{"typing":true}}`, wantErr: ErrInvalidPayload},
		{name: "payload wrong shape", raw: `{"kind":"message_inserted","thread":"` + thread.Key() + `","payload":[1,2]}`, wantErr: ErrInvalidPayload},
		{name: "message without id", raw: `{"kind":"message_inserted","thread":"` + thread.Key() + `","payload":{"message":{"content":"x"}}}`, wantErr: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncode_RejectsThreadMismatch(t *testing.T) {
	thread := models.ThreadRef{Type: models.ThreadTypeDM, ID: uuid.New()}
	other := models.ThreadRef{Type: models.ThreadTypeDM, ID: uuid.New()}

	_, err := Encode(other, MessageInserted{Message: testMessage(thread)})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(models.ThreadRef{}, TypingChanged{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEncode_RejectsOptimisticMessage(t *testing.T) {
	thread := models.ThreadRef{Type: models.ThreadTypeDM, ID: uuid.New()}
	msg := testMessage(thread)
	msg.IsOptimistic = true

	_, err := Encode(thread, MessageInserted{Message: msg})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSubscriberFunc(t *testing.T) {
	var got Event
	var sub Subscriber = SubscriberFunc(func(thread models.ThreadRef, ev Event) {
		got = ev
	})
	sub.OnEvent(models.ThreadRef{}, TypingChanged{})
	assert.Equal(t, KindTypingChanged, got.Kind())
}
