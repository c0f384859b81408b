package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/lachlan2k/gatehouse/internal/password"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// countingHasher wraps bcrypt and counts Verify calls, so tests can see that every path
// through Authenticate that reaches the store also pays for a hash comparison.
type countingHasher struct {
	password.Hasher
	mu       sync.Mutex
	verifies int
}

func (c *countingHasher) Verify(secret, encodedHash string) (bool, error) {
	c.mu.Lock()
	c.verifies++
	c.mu.Unlock()
	return c.Hasher.Verify(secret, encodedHash)
}

func (c *countingHasher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifies
}

type brokenStore struct {
	*users.MemoryStore
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connection refused")

func (brokenStore) GetUserByEmail(context.Context, string) (*users.User, error) {
	return nil, errConnRefused
}

func (brokenStore) CountUsers(context.Context) (int, error) {
	return 0, errConnRefused
}

type recordedAttempt struct{ method, outcome string }

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []recordedAttempt
}

func (f *fakeRecorder) LoginAttempt(method, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, recordedAttempt{method, outcome})
}

type fixture struct {
	svc    *Service
	store  users.Store
	hasher *countingHasher
	codec  *session.Codec
	rec    *fakeRecorder
}

func newFixture(t *testing.T, store users.Store) *fixture {
	t.Helper()

	bc, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	hasher := &countingHasher{Hasher: bc}

	authConf := config.Default().Auth
	authConf.Secret = "auth-package-test-secret"
	codec, err := session.NewCodec(authConf)
	require.NoError(t, err)

	logger := echo.New().Logger
	logger.SetOutput(io.Discard)

	rec := &fakeRecorder{}
	svc, err := NewService(store, hasher, codec, logger, rec)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, hasher: hasher, codec: codec, rec: rec}
}

func (f *fixture) addUser(t *testing.T, email, secret string, role users.Role) *users.User {
	t.Helper()
	hash, err := f.hasher.Hash(secret)
	require.NoError(t, err)
	u := users.New(email, hash, role)
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	u := f.addUser(t, "a@b.com", "correct", users.RoleAdmin)

	res, err := f.svc.Authenticate(context.Background(), "a@b.com", "correct")
	require.NoError(t, err)
	assert.Equal(t, Authenticated, res.Outcome)
	assert.Equal(t, u.ID, res.UserID)
	assert.Equal(t, "admin", res.Role)
}

func TestAuthenticateRejectionsLookAlike(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	f.addUser(t, "a@b.com", "correct", users.RoleUser)
	ctx := context.Background()

	before := f.hasher.count()
	unknown, errUnknown := f.svc.Authenticate(ctx, "nobody@b.com", "correct")
	afterUnknown := f.hasher.count()
	wrong, errWrong := f.svc.Authenticate(ctx, "a@b.com", "wrong")
	afterWrong := f.hasher.count()

	require.NoError(t, errUnknown)
	require.NoError(t, errWrong)
	assert.Equal(t, Result{Outcome: Rejected}, unknown)
	assert.Equal(t, unknown, wrong)

	// Both paths do exactly one hash comparison
	assert.Equal(t, 1, afterUnknown-before)
	assert.Equal(t, 1, afterWrong-afterUnknown)
}

func TestAuthenticateEmptyInputShortCircuits(t *testing.T) {
	f := newFixture(t, brokenStore{users.NewMemoryStore()})

	for _, in := range [][2]string{{"", "secret"}, {"a@b.com", ""}, {"   ", "secret"}, {"", ""}} {
		res, err := f.svc.Authenticate(context.Background(), in[0], in[1])
		require.NoError(t, err, "empty input must not reach the (broken) store")
		assert.Equal(t, Rejected, res.Outcome)
	}
	assert.Zero(t, f.hasher.count())
}

func TestAuthenticateStoreOutageIsOperational(t *testing.T) {
	f := newFixture(t, brokenStore{users.NewMemoryStore()})

	_, err := f.svc.Authenticate(context.Background(), "a@b.com", "correct")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = f.svc.Login(context.Background(), "a@b.com", "correct")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestAuthenticateCorruptHashIsRejected(t *testing.T) {
	store := users.NewMemoryStore()
	f := newFixture(t, store)
	require.NoError(t, store.CreateUser(context.Background(), users.New("a@b.com", "not-a-hash", users.RoleUser)))

	res, err := f.svc.Authenticate(context.Background(), "a@b.com", "correct")
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Outcome)
}

func TestLoginMintsVerifiableToken(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	u := f.addUser(t, "a@b.com", "correct", users.RoleAdmin)

	grant, err := f.svc.Login(context.Background(), "A@B.com ", "correct")
	require.NoError(t, err)
	assert.Equal(t, u.ID, grant.UserID)

	sess, err := f.codec.Session(grant.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.User.ID)
	assert.Equal(t, "admin", sess.User.Role)
	assert.True(t, grant.ExpiresAt.Equal(sess.ExpiresAt))
}

func TestLoginRejectsWithoutDetail(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	f.addUser(t, "a@b.com", "correct", users.RoleUser)

	for _, creds := range [][2]string{{"a@b.com", "wrong"}, {"who@b.com", "correct"}, {"", ""}} {
		grant, err := f.svc.Login(context.Background(), creds[0], creds[1])
		assert.Nil(t, grant)
		assert.Equal(t, ErrRejected, err)
	}

	assert.Equal(t, []recordedAttempt{
		{"password", "rejected"},
		{"password", "rejected"},
		{"password", "rejected"},
	}, f.rec.attempts)
}

func TestLoginExternal(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	u := f.addUser(t, "sso@b.com", "irrelevant", users.RoleUser)

	grant, err := f.svc.LoginExternal(context.Background(), "sso@b.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, grant.UserID)

	_, err = f.svc.LoginExternal(context.Background(), "stranger@b.com")
	assert.ErrorIs(t, err, ErrRejected)

	_, err = f.svc.LoginExternal(context.Background(), "")
	assert.ErrorIs(t, err, ErrRejected)

	broken := newFixture(t, brokenStore{users.NewMemoryStore()})
	_, err = broken.svc.LoginExternal(context.Background(), "sso@b.com")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSetupOnlyOnEmptyStore(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	ctx := context.Background()

	needed, err := f.svc.SetupNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, needed)

	_, err = f.svc.Setup(ctx, "first@b.com", "short")
	assert.ErrorIs(t, err, ErrWeakSecret)

	grant, err := f.svc.Setup(ctx, "first@b.com", "long-enough")
	require.NoError(t, err)
	assert.Equal(t, "admin", grant.Role)

	_, err = f.svc.Setup(ctx, "second@b.com", "long-enough")
	assert.ErrorIs(t, err, ErrSetupClosed)

	_, err = f.svc.Login(ctx, "first@b.com", "long-enough")
	assert.NoError(t, err)
}

// slowHasher stands in for a production bcrypt cost, so concurrent setups overlap.
type slowHasher struct {
	password.Hasher
}

func (s slowHasher) Hash(secret string) (string, error) {
	time.Sleep(20 * time.Millisecond)
	return s.Hasher.Hash(secret)
}

func TestConcurrentSetupCreatesOneAdmin(t *testing.T) {
	bc, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	authConf := config.Default().Auth
	authConf.Secret = "auth-package-test-secret"
	codec, err := session.NewCodec(authConf)
	require.NoError(t, err)

	logger := echo.New().Logger
	logger.SetOutput(io.Discard)

	store := users.NewMemoryStore()
	svc, err := NewService(store, slowHasher{bc}, codec, logger, nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Setup(context.Background(), fmt.Sprintf("admin%d@b.com", i), "long-enough")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSetupClosed)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	n, err := store.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetupStoreOutage(t *testing.T) {
	f := newFixture(t, brokenStore{users.NewMemoryStore()})

	_, err := f.svc.Setup(context.Background(), "first@b.com", "long-enough")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t, users.NewMemoryStore())
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, "not-an-email", "long-enough", users.RoleUser)
	assert.Error(t, err)

	_, err = f.svc.CreateUser(ctx, "a@b.com", "long-enough", users.RoleUser)
	require.NoError(t, err)

	_, err = f.svc.CreateUser(ctx, "a@b.com", "long-enough", users.RoleUser)
	assert.ErrorIs(t, err, users.ErrUserExists)
}
