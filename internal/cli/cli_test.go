package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/lachlan2k/gatehouse/internal/metrics"
	"github.com/lachlan2k/gatehouse/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUserAdd(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	dbPath := filepath.Join(t.TempDir(), "users.db")
	confPath := writeConfig(t, `
base_url = "https://app.example.com"

[auth]
secret = "cli-test-secret-value-abcdef"

[store]
driver = "sqlite"
sqlite_path = "`+filepath.ToSlash(dbPath)+`"

[password]
bcrypt_cost = 4
`)

	out, err := run(t, "--config", confPath, "user", "add", "--email", "Alice@Example.com", "--password", "long-enough-pw", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Created admin user alice@example.com")

	store, err := users.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer store.Close()

	u, err := store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, users.RoleAdmin, u.Role)

	_, err = run(t, "--config", confPath, "user", "add", "--email", "alice@example.com", "--password", "long-enough-pw")
	assert.ErrorIs(t, err, users.ErrUserExists)

	_, err = run(t, "--config", confPath, "user", "add", "--email", "bob@example.com", "--password", "pw", "--role", "root")
	assert.Error(t, err)
}

func TestEdgeRefusesGeneratedSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	confPath := writeConfig(t, `base_url = "https://app.example.com"`)

	_, err := run(t, "--config", confPath, "edge")
	assert.ErrorIs(t, err, errEdgeNeedsSecret)
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "serve")
	assert.ErrorContains(t, err, "failed to load config")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gatehouse dev")
}

func TestShutdownMetricsLogsFailure(t *testing.T) {
	srv := metrics.New().Server("127.0.0.1:0")
	accepted := make(chan struct{}, 1)
	srv.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			accepted <- struct{}{}
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	// A half-sent request keeps the connection busy, so shutdown can't finish in time
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET /metrics HTTP/1.1\r\n"))
	require.NoError(t, err)
	<-accepted

	var logs bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdownMetrics(ctx, srv, newLogger("test", &logs))

	assert.Contains(t, logs.String(), "didn't shut down cleanly")
	srv.Close()
}
