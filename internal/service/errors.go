package service

import "errors"

var (
	ErrInvalidRoomID      = errors.New("invalid room identifier")
	ErrInvalidEventID     = errors.New("invalid event identifier")
	ErrNotJoined          = errors.New("room is not public")
	ErrRoomNotFound       = errors.New("room not found")
	ErrSpaceNotFound      = errors.New("space not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrNoSpacesConfigured = errors.New("no spaces configured")
)
