package repositories

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotParticipant      = errors.New("user is not a room participant")
	ErrInvalidParticipants = errors.New("room needs two distinct participants")
)
