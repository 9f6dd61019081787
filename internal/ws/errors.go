package ws

import (
	"errors"

	"github.com/HammerMeetNail/nearby/internal/channel"
	"github.com/HammerMeetNail/nearby/internal/models"
	"github.com/HammerMeetNail/nearby/internal/services"
	"github.com/HammerMeetNail/nearby/internal/session"
)

const (
	CodeBadRequest           = "bad_request"
	CodeUnknownType          = "unknown_type"
	CodeInvalidThread        = "invalid_thread"
	CodeThreadNotOpen        = "thread_not_open"
	CodeEmptyMessage         = "empty_message"
	CodeMessageTooLong       = "message_too_long"
	CodeNetworkFailure       = "network_failure"
	CodeConnectionTerminated = "connection_terminated"
	CodeInvitationNotFound   = "invitation_not_found"
	CodeAlreadyResolved      = "already_resolved"
	CodeDuplicateInvitation  = "duplicate_invitation"
	CodeForbidden            = "forbidden"
	CodeInternal             = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{channel.ErrEmptyMessage, CodeEmptyMessage},
	{channel.ErrMessageTooLong, CodeMessageTooLong},
	{channel.ErrNetworkFailure, CodeNetworkFailure},
	{channel.ErrConnectionTerminated, CodeConnectionTerminated},
	{session.ErrThreadNotOpen, CodeThreadNotOpen},
	{models.ErrInvalidThreadRef, CodeInvalidThread},
	{services.ErrInvalidThread, CodeInvalidThread},
	{services.ErrInvitationNotFound, CodeInvitationNotFound},
	{services.ErrAlreadyResolved, CodeAlreadyResolved},
	{services.ErrDuplicateInvitation, CodeDuplicateInvitation},
	{services.ErrCannotInviteSelf, CodeBadRequest},
	{services.ErrActivityLabelTooLong, CodeBadRequest},
	{services.ErrNotInvitationRecipient, CodeForbidden},
	{services.ErrNotInvitationSender, CodeForbidden},
}

// errorCode maps a domain error to its wire code. Unrecognized errors are internal.
func errorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

func errorMessage(err error, code string) string {
	if code == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
