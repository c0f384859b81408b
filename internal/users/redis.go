package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each user in a hash at <prefix>:user:<email> and every email in the
// set <prefix>:users, which is what CountUsers reads.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gatehouse"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// OpenRedis dials and pings so a bad address fails at startup rather than on first login.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("couldn't reach redis at %s: %w", addr, err)
	}

	return NewRedisStore(rdb, prefix), nil
}

func (s *RedisStore) userKey(email string) string {
	return s.prefix + ":user:" + email
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":users"
}

func (s *RedisStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	fields, err := s.rdb.HGetAll(ctx, s.userKey(NormalizeEmail(email))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis user lookup: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrUserNotFound
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis user record for %s has a bad created_at: %w", email, err)
	}

	return &User{
		ID:           fields["id"],
		Email:        fields["email"],
		PasswordHash: fields["password_hash"],
		Role:         Role(fields["role"]),
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (s *RedisStore) CreateUser(ctx context.Context, u *User) error {
	return s.create(ctx, u, false)
}

func (s *RedisStore) CreateFirstUser(ctx context.Context, u *User) error {
	return s.create(ctx, u, true)
}

// create writes u under WATCH. When onlyFirst is set the index is watched too, so a user
// added by anyone else between the check and EXEC aborts the transaction.
func (s *RedisStore) create(ctx context.Context, u *User, onlyFirst bool) error {
	if err := validateNew(u); err != nil {
		return err
	}

	email := NormalizeEmail(u.Email)
	key := s.userKey(email)
	watched := []string{key}
	if onlyFirst {
		watched = append(watched, s.indexKey())
	}

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if onlyFirst {
			n, err := tx.SCard(ctx, s.indexKey()).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrNotEmpty
			}
		}

		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrUserExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"id":            u.ID,
				"email":         email,
				"password_hash": u.PasswordHash,
				"role":          string(u.Role),
				"created_at":    u.CreatedAt.Unix(),
			})
			pipe.SAdd(ctx, s.indexKey(), email)
			return nil
		})
		return err
	}, watched...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrNotEmpty):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// Somebody else wrote a watched key between our WATCH and EXEC
		if onlyFirst {
			return ErrNotEmpty
		}
		return ErrUserExists
	default:
		return fmt.Errorf("redis user insert: %w", err)
	}
}

func (s *RedisStore) CountUsers(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis user count: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
