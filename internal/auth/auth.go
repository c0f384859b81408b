// Package auth turns credentials into session tokens. It is the only place the user store
// is consulted, and it never says why a login was refused.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/password"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/users"
)

// MinSecretLength applies when creating accounts, not when checking them.
const MinSecretLength = 8

var (
	// ErrRejected covers unknown users, wrong secrets and empty input alike
	ErrRejected = errors.New("invalid email or password")
	// ErrUnavailable means the store couldn't answer. It is not a judgement on the credentials
	ErrUnavailable  = errors.New("authentication backend unavailable")
	ErrSetupClosed  = errors.New("setup is only possible before the first user exists")
	ErrWeakSecret   = fmt.Errorf("password must be at least %d characters", MinSecretLength)
	ErrInvalidEmail = errors.New("a valid email address is required")
)

type Outcome int

const (
	Rejected Outcome = iota
	Authenticated
)

func (o Outcome) String() string {
	if o == Authenticated {
		return "authenticated"
	}
	return "rejected"
}

// Result is what Authenticate decided. Only an Authenticated result carries a user.
type Result struct {
	Outcome Outcome
	UserID  string
	Email   string
	Role    string
}

func (r Result) principal() *session.Principal {
	return &session.Principal{ID: r.UserID, Email: r.Email, Role: r.Role}
}

// Grant is a freshly minted session for a client to hold on to.
type Grant struct {
	Token     session.Token `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	UserID    string        `json:"user_id"`
	Role      string        `json:"role"`
}

// Recorder gets told how each login attempt ended. It may be nil.
type Recorder interface {
	LoginAttempt(method, outcome string)
}

type Service struct {
	store  users.Store
	hasher password.Hasher
	codec  *session.Codec
	logger echo.Logger
	rec    Recorder

	// Compared against when the user doesn't exist, so that path costs the same as a wrong password
	dummyHash string
}

func NewService(store users.Store, hasher password.Hasher, codec *session.Codec, logger echo.Logger, rec Recorder) (*Service, error) {
	dummyHash, err := hasher.Hash("gatehouse-timing-equaliser")
	if err != nil {
		return nil, fmt.Errorf("couldn't prepare dummy password hash: %w", err)
	}

	return &Service{
		store:     store,
		hasher:    password.NewVerifying(hasher),
		codec:     codec,
		logger:    logger,
		rec:       rec,
		dummyHash: dummyHash,
	}, nil
}

func (s *Service) record(method, outcome string) {
	if s.rec != nil {
		s.rec.LoginAttempt(method, outcome)
	}
}

// Authenticate checks identifier and secret against the store. A nil error with a Rejected
// result is a security decision; a non-nil error wraps ErrUnavailable and is operational.
func (s *Service) Authenticate(ctx context.Context, identifier, secret string) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return Result{Outcome: Rejected}, nil
	}

	user, err := s.store.GetUserByEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			s.hasher.Verify(secret, s.dummyHash)
			return Result{Outcome: Rejected}, nil
		}
		return Result{Outcome: Rejected}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := s.hasher.Verify(secret, user.PasswordHash)
	if err != nil {
		s.logger.Errorf("Stored password hash for user %s couldn't be checked: %v", user.ID, err)
		return Result{Outcome: Rejected}, nil
	}
	if !ok {
		return Result{Outcome: Rejected}, nil
	}

	return Result{
		Outcome: Authenticated,
		UserID:  user.ID,
		Email:   user.Email,
		Role:    string(user.Role),
	}, nil
}

// Login authenticates and, on success, mints a session token.
func (s *Service) Login(ctx context.Context, identifier, secret string) (*Grant, error) {
	res, err := s.Authenticate(ctx, identifier, secret)
	if err != nil {
		s.record("password", "error")
		return nil, err
	}
	if res.Outcome != Authenticated {
		s.record("password", "rejected")
		return nil, ErrRejected
	}

	grant, err := s.issue(res)
	if err != nil {
		s.record("password", "error")
		return nil, err
	}

	s.record("password", "success")
	return grant, nil
}

// LoginExternal mints a session for a user whose identity was already proven elsewhere
// (an SSO provider). The user still has to exist in our store.
func (s *Service) LoginExternal(ctx context.Context, email string) (*Grant, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		s.record("sso", "rejected")
		return nil, ErrRejected
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			s.record("sso", "rejected")
			return nil, ErrRejected
		}
		s.record("sso", "error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	grant, err := s.issue(Result{Outcome: Authenticated, UserID: user.ID, Email: user.Email, Role: string(user.Role)})
	if err != nil {
		s.record("sso", "error")
		return nil, err
	}

	s.record("sso", "success")
	return grant, nil
}

func (s *Service) issue(res Result) (*Grant, error) {
	token, expiresAt, err := s.codec.MintFor(res.principal())
	if err != nil {
		return nil, err
	}

	return &Grant{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    res.UserID,
		Role:      res.Role,
	}, nil
}

// SetupNeeded reports whether the store is still empty.
func (s *Service) SetupNeeded(ctx context.Context) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 0, nil
}

// Setup creates the first user, as an admin, and logs them straight in. It refuses once any
// user exists. The emptiness check is repeated atomically by the store, so of several
// concurrent setups exactly one wins.
func (s *Service) Setup(ctx context.Context, email, secret string) (*Grant, error) {
	needed, err := s.SetupNeeded(ctx)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, ErrSetupClosed
	}

	user, err := s.newUser(email, secret, users.RoleAdmin)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateFirstUser(ctx, user); err != nil {
		if errors.Is(err, users.ErrNotEmpty) || errors.Is(err, users.ErrUserExists) {
			return nil, ErrSetupClosed
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return s.issue(Result{Outcome: Authenticated, UserID: user.ID, Email: user.Email, Role: string(user.Role)})
}

// CreateUser hashes secret and stores a new user.
func (s *Service) CreateUser(ctx context.Context, email, secret string, role users.Role) (*users.User, error) {
	user, err := s.newUser(email, secret, role)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, users.ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return user, nil
}

func (s *Service) newUser(email, secret string, role users.Role) (*users.User, error) {
	email = users.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("couldn't hash password: %w", err)
	}

	return users.New(email, hash, role), nil
}
