package game

import "errors"

var (
	ErrCapacityExceeded   = errors.New("room capacity exceeded")
	ErrRoomNotFound       = errors.New("room not found")
	ErrSessionInProgress  = errors.New("session in progress")
	ErrRoomFull           = errors.New("room full")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotHost            = errors.New("not host")
	ErrInvalidPhase       = errors.New("invalid phase for action")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrAlreadySubmitted   = errors.New("already submitted")
	ErrAlreadyJoined      = errors.New("connection already seated as another participant")
)

// Code maps a sentinel error to the short code sent to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrSessionInProgress):
		return "session_in_progress"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	}
	return "internal"
}
