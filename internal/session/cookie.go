package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/config"
)

// Reader is anything that can pull a verified session out of a request.
type Reader interface {
	GetSession(echo.Context) (*Session, error)
}

type SessionHandler interface {
	Reader
	Start(c echo.Context, token Token, expiresAt time.Time)
	Destroy(echo.Context)
}

// CookieHandler carries the token in an HttpOnly cookie. API clients that can't hold
// cookies may send it as a bearer token instead.
type CookieHandler struct {
	Codec        *Codec
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

func NewCookieHandler(conf config.AuthConfig, codec *Codec) *CookieHandler {
	return &CookieHandler{
		Codec:        codec,
		CookieName:   conf.Cookie.Name,
		CookieDomain: conf.Cookie.Domain,
		CookieSecure: conf.Cookie.Secure,
	}
}

func (s *CookieHandler) Start(c echo.Context, token Token, expiresAt time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     s.CookieName,
		Value:    token,
		Domain:   s.CookieDomain,
		Path:     "/",
		Secure:   s.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (s *CookieHandler) Destroy(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     s.CookieName,
		Value:    "",
		Domain:   s.CookieDomain,
		Path:     "/",
		Secure:   s.CookieSecure,
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// TokenFrom returns the raw token on the request, or "" if there isn't one.
func (s *CookieHandler) TokenFrom(c echo.Context) Token {
	if authCookie, err := c.Cookie(s.CookieName); err == nil && authCookie.Value != "" {
		return authCookie.Value
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}

	return ""
}

func (s *CookieHandler) GetSession(c echo.Context) (*Session, error) {
	token := s.TokenFrom(c)
	if token == "" {
		return nil, ErrInvalidSession
	}

	return s.Codec.Session(token)
}
