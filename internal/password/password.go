// Package password hashes and verifies user secrets. New hashes use whichever algorithm is
// configured; verification understands both bcrypt and argon2id, so switching algorithms
// doesn't lock anybody out.
package password

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lachlan2k/gatehouse/internal/config"
)

var ErrMalformedHash = errors.New("stored password hash is malformed")

// Hasher produces encoded hashes and checks secrets against them.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
}

// New builds the hasher selected in the config.
func New(conf *config.Config) (Hasher, error) {
	switch conf.Password.Algorithm {
	case "argon2id":
		return NewArgon2(Argon2Config{
			Memory:      conf.Password.Argon2.Memory,
			Time:        conf.Password.Argon2.Time,
			Parallelism: conf.Password.Argon2.Parallelism,
			SaltLength:  16,
			KeyLength:   32,
		})
	case "bcrypt", "":
		return NewBcrypt(conf.Password.BcryptCost)
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", conf.Password.Algorithm)
	}
}

// multi hashes with primary but verifies whatever format the stored hash is in.
type multi struct {
	primary Hasher
	argon2  *Argon2
	bcrypt  *Bcrypt
}

// NewVerifying wraps primary so Verify accepts any supported encoding. Hashers it doesn't
// know are returned untouched.
func NewVerifying(primary Hasher) Hasher {
	switch p := primary.(type) {
	case *Argon2:
		return &multi{primary: p, argon2: p, bcrypt: &Bcrypt{cost: defaultBcryptCost}}
	case *Bcrypt:
		return &multi{primary: p, argon2: &Argon2{config: defaultArgon2Config()}, bcrypt: p}
	default:
		return primary
	}
}

func (m *multi) Hash(secret string) (string, error) {
	return m.primary.Hash(secret)
}

func (m *multi) Verify(secret, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+argon2AlgorithmID+"$"):
		return m.argon2.Verify(secret, encodedHash)
	case isBcryptHash(encodedHash):
		return m.bcrypt.Verify(secret, encodedHash)
	default:
		return false, ErrMalformedHash
	}
}
