package accesscontrol

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	decisions map[string]int
}

func (r *countingRecorder) GateDecision(class, action string) {
	r.decisions[class+"/"+action]++
}

type gatedServer struct {
	e      *echo.Echo
	codec  *session.Codec
	cookie string
	rec    *countingRecorder
}

func newGatedServer(t *testing.T) *gatedServer {
	t.Helper()

	conf := config.Default().Auth
	conf.Secret = "middleware-test-secret-value"

	codec, err := session.NewCodec(conf)
	require.NoError(t, err)
	gate, err := NewGate(conf)
	require.NoError(t, err)

	e := echo.New()
	e.Logger.SetOutput(io.Discard)
	rec := &countingRecorder{decisions: map[string]int{}}
	e.Use(Middleware(gate, session.NewCookieHandler(conf, codec), e.Logger, rec))

	handler := func(c echo.Context) error {
		if sess := SessionFrom(c); sess != nil {
			return c.String(http.StatusOK, "hello "+sess.User.ID)
		}
		return c.String(http.StatusOK, "hello stranger")
	}
	e.GET("/*", handler)

	return &gatedServer{e: e, codec: codec, cookie: conf.Cookie.Name, rec: rec}
}

func (s *gatedServer) do(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: s.cookie, Value: token})
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareProtectedPath(t *testing.T) {
	s := newGatedServer(t)

	res := s.do("/dashboard", "")
	assert.Equal(t, http.StatusFound, res.Code)
	assert.Equal(t, "/login?redir=%2Fdashboard", res.Header().Get(echo.HeaderLocation))

	token, _, err := s.codec.Mint("user-123", "user")
	require.NoError(t, err)

	res = s.do("/dashboard", token)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "hello user-123", res.Body.String())
}

func TestMiddlewareInvalidTokensDegradeToRedirect(t *testing.T) {
	s := newGatedServer(t)

	token, _, err := s.codec.Mint("user-123", "user")
	require.NoError(t, err)

	for _, bad := range []string{"garbage", token[:len(token)-4] + "AAAA", token + "x"} {
		res := s.do("/dashboard", bad)
		assert.Equal(t, http.StatusFound, res.Code)
		assert.Contains(t, res.Header().Get(echo.HeaderLocation), "/login")
	}
}

func TestMiddlewareExpiredToken(t *testing.T) {
	s := newGatedServer(t)

	conf := config.Default().Auth
	conf.Secret = "middleware-test-secret-value"
	past, err := session.NewCodec(conf, session.WithClock(func() time.Time {
		return time.Now().Add(-31 * 24 * time.Hour)
	}))
	require.NoError(t, err)

	token, _, err := past.Mint("user-123", "user")
	require.NoError(t, err)

	res := s.do("/dashboard", token)
	assert.Equal(t, http.StatusFound, res.Code)
}

func TestMiddlewareLoginPage(t *testing.T) {
	s := newGatedServer(t)

	res := s.do("/login", "")
	assert.Equal(t, http.StatusOK, res.Code)

	token, _, err := s.codec.Mint("user-123", "user")
	require.NoError(t, err)

	res = s.do("/login", token)
	assert.Equal(t, http.StatusFound, res.Code)
	assert.Equal(t, "/", res.Header().Get(echo.HeaderLocation))
}

func TestMiddlewarePassThroughs(t *testing.T) {
	s := newGatedServer(t)

	for _, path := range []string{"/api/things", "/logo.png", "/_next/static/x", "/favicon.ico"} {
		res := s.do(path, "garbage")
		assert.Equal(t, http.StatusOK, res.Code, path)
	}

	assert.Equal(t, 1, s.rec.decisions["api/pass"])
	assert.Equal(t, 1, s.rec.decisions["static-asset/pass"])
	assert.Equal(t, 2, s.rec.decisions["excluded/pass"])
}

func TestMiddlewareAttachesSessionForAPI(t *testing.T) {
	s := newGatedServer(t)

	token, _, err := s.codec.Mint("user-9", "admin")
	require.NoError(t, err)

	res := s.do("/api/whoami", token)
	assert.Equal(t, "hello user-9", res.Body.String())

	res = s.do("/api/whoami", "")
	assert.Equal(t, "hello stranger", res.Body.String())
}
