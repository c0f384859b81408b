package users

import (
	"context"
	"sync"
)

// MemoryStore keeps users in a map. Handy for tests and throwaway dev servers.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]User)}
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateNew(u); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(u.Email)
	if _, exists := m.byEmail[email]; exists {
		return ErrUserExists
	}

	stored := *u
	stored.Email = email
	m.byEmail[email] = stored
	return nil
}

func (m *MemoryStore) CreateFirstUser(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateNew(u); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byEmail) > 0 {
		return ErrNotEmpty
	}

	stored := *u
	stored.Email = NormalizeEmail(u.Email)
	m.byEmail[stored.Email] = stored
	return nil
}

func (m *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byEmail), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
