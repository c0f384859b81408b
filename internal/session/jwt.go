package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/lachlan2k/gatehouse/internal/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Aliasing it so we can use it in the struct literal for composition
type jwtRegisteredClaims = jwt.RegisteredClaims

// Claims is the payload of a session token. Subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwtRegisteredClaims
}

// Codec mints and verifies session tokens. It holds nothing but configuration, so one
// instance can serve any number of concurrent requests.
type Codec struct {
	secret   []byte
	lifetime time.Duration
	policy   Policy
	now      func() time.Time
	parser   *jwt.Parser
}

type CodecOption func(*Codec)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

func WithPolicy(p Policy) CodecOption {
	return func(c *Codec) {
		c.policy = p.withDefaults()
	}
}

func NewCodec(conf config.AuthConfig, opts ...CodecOption) (*Codec, error) {
	if len(conf.Secret) < config.MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", config.MinSecretLength)
	}
	if conf.Lifetime <= 0 {
		return nil, errors.New("session lifetime must be positive")
	}

	c := &Codec{
		secret:   []byte(conf.Secret),
		lifetime: time.Duration(conf.Lifetime) * time.Second,
		policy:   DefaultPolicy(),
		now:      time.Now,
		// Expiry is checked against our own clock below, not the package-level jwt.TimeFunc
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}), jwt.WithoutClaimsValidation()),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// Mint signs a token for subjectID carrying role. It returns the token and when it expires.
func (c *Codec) Mint(subjectID, role string) (Token, time.Time, error) {
	return c.sign(&Claims{
		Role: role,
		jwtRegisteredClaims: jwt.RegisteredClaims{
			Subject: subjectID,
		},
	})
}

// MintFor runs the policy's mint hook for p, then signs the result.
func (c *Codec) MintFor(p *Principal) (Token, time.Time, error) {
	claims := &Claims{}
	if p != nil {
		claims.Subject = p.ID
	}
	return c.sign(c.policy.OnMint(claims, p))
}

func (c *Codec) sign(claims *Claims) (Token, time.Time, error) {
	if claims == nil || claims.Subject == "" {
		return "", time.Time{}, errors.New("couldn't sign session JWT: no subject")
	}

	issuedAt := jwt.NewNumericDate(c.now())
	expiresAt := jwt.NewNumericDate(issuedAt.Add(c.lifetime))

	claims.IssuedAt = issuedAt
	claims.ExpiresAt = expiresAt
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("couldn't sign session JWT: %v", err)
	}

	return signed, expiresAt.Time, nil
}

// Verify checks the signature and expiry of token. Every failure wraps ErrInvalidSession.
func (c *Codec) Verify(token Token) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	// The jwt package decodes base64 leniently, which lets the trailing bits of the
	// signature segment change without changing the signature.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidSession)
	}
	if _, err := base64.RawURLEncoding.Strict().DecodeString(parts[2]); err != nil {
		return nil, fmt.Errorf("%w: malformed signature", ErrInvalidSession)
	}

	claims := new(Claims)
	parsed, err := c.parser.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid signature", ErrInvalidSession)
	}

	if !claims.VerifyExpiresAt(c.now(), true) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidSession)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidSession)
	}

	return claims, nil
}

// Session verifies token and runs the policy's read hook over a fresh session.
func (c *Codec) Session(token Token) (*Session, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		User:      &User{},
		ExpiresAt: claims.ExpiresAt.Time,
	}

	if sess = c.policy.OnRead(sess, claims); sess == nil {
		return nil, fmt.Errorf("%w: policy dropped the session", ErrInvalidSession)
	}

	return sess, nil
}
