// Package domain contains entity types without logic, just meta-data.
package domain

import "errors"

const MaxUserNameLen = 64

var (
	ErrUserNameEmpty   = errors.New("user name empty")
	ErrUserNameTooLong = errors.New("user name too long")
)

// ConnectionID identifies one live client transport.
type ConnectionID string

// RoomKey is the client-facing room identifier.
type RoomKey string

// Connection holds the session attributes of one live transport.
// RoomKey is empty while the connection is not a member of any room.
// RoomRef is an external numeric reference used only for persistence calls.
type Connection struct {
	ID       ConnectionID
	UserName string
	Name     string
	ImageURL string
	RoomKey  RoomKey
	RoomRef  int64
}

func ValidateUserName(name string) error {
	if len(name) == 0 {
		return ErrUserNameEmpty
	}
	if len(name) > MaxUserNameLen {
		return ErrUserNameTooLong
	}
	return nil
}
