package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser, "":
		return RoleUser, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("a user with that email already exists")

	// ErrNotEmpty is returned by CreateFirstUser once any user exists
	ErrNotEmpty = errors.New("store already has users")
)

// Store is the user data store. Implementations must be safe for concurrent use and must
// return ErrUserNotFound (and only that) when the email simply isn't there.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	// CreateFirstUser stores u only if there are no users yet, checked and written atomically
	CreateFirstUser(ctx context.Context, u *User) error
	CountUsers(ctx context.Context) (int, error)
	Close() error
}

// NormalizeEmail is how emails are keyed in every store.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// New fills in the fields a store expects on creation.
func New(email, passwordHash string, role Role) *User {
	return &User{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
}

func validateNew(u *User) error {
	if u == nil || u.ID == "" || u.Email == "" || u.PasswordHash == "" {
		return errors.New("user is missing an id, email or password hash")
	}
	return nil
}
