package session

import (
	"errors"
	"time"
)

type Token = string

// User is the user-facing part of a session.
type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Session is built per request from a verified token. It is never stored.
type Session struct {
	User      *User     `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Principal is whoever just authenticated, as handed to the mint hook.
type Principal struct {
	ID    string
	Email string
	Role  string
}

var ErrInvalidSession = errors.New("session token was invalid")
