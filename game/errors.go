package game

import "errors"

var (
	ErrRoomFull       = errors.New("room is full")
	ErrBanned         = errors.New("user is banned from this room")
	ErrNotHost        = errors.New("only the host can do that")
	ErrNotDrawer      = errors.New("only the drawer can do that")
	ErrGameNotReady   = errors.New("need at least 2 connected players")
	ErrInvalidState   = errors.New("operation not valid in current game state")
	ErrInvalidWord    = errors.New("word is not one of the offered options")
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrCodeSpaceFull  = errors.New("could not allocate a unique room code")
)
