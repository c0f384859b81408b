// Package edge is the gate on its own, for a reverse proxy to consult before it forwards a
// request. It has no user store: a token is trusted if it verifies with the shared secret.
package edge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lachlan2k/gatehouse/internal/accesscontrol"
	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/lachlan2k/gatehouse/internal/metrics"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/utils"
)

const (
	headerForwardedURI = "X-Forwarded-Uri"
	headerUser         = "X-Auth-User"
	headerRole         = "X-Auth-Role"
)

type Server struct {
	echo           *echo.Echo
	conf           *config.Config
	gate           *accesscontrol.Gate
	sessionHandler *session.CookieHandler
	metrics        *metrics.Metrics
}

func New(conf *config.Config, m *metrics.Metrics) (*Server, error) {
	e := echo.New()
	e.HideBanner = true

	if m == nil {
		m = metrics.New()
	}

	codec, err := session.NewCodec(conf.Auth)
	if err != nil {
		return nil, err
	}

	gate, err := accesscontrol.NewGate(conf.Auth)
	if err != nil {
		return nil, err
	}

	s := &Server{
		echo:           e,
		conf:           conf,
		gate:           gate,
		sessionHandler: session.NewCookieHandler(conf.Auth, codec),
		metrics:        m,
	}

	e.Use(middleware.Recover())

	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	e.GET("/verify", s.verifyRouteHandler)

	return s, nil
}

// Where the proxied request was going. Proxies that can't set a header pass ?uri= instead.
func forwardedURI(c echo.Context) string {
	uri := c.Request().Header.Get(headerForwardedURI)
	if uri == "" {
		uri = c.QueryParam("uri")
	}
	if uri == "" {
		uri = "/"
	}
	return uri
}

func (s *Server) verifyRouteHandler(c echo.Context) error {
	logger := c.Echo().Logger

	requestURI := forwardedURI(c)
	parsed, err := url.ParseRequestURI(requestURI)
	if err != nil || !strings.HasPrefix(parsed.Path, "/") {
		return c.String(http.StatusBadRequest, "Invalid forwarded URI")
	}

	var sess *session.Session
	class := s.gate.Classify(parsed.Path)
	if class != accesscontrol.RouteExcluded && class != accesscontrol.RouteStaticAsset {
		sess, err = s.sessionHandler.GetSession(c)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidSession) {
				logger.Warnf("unexpected error occured getting session data: %v", err)
			}
			sess = nil
		}
	}

	d := s.gate.Decide(parsed.Path, sess)
	s.metrics.GateDecision(d.Class.String(), d.Action.String())

	if d.Action == accesscontrol.Redirect {
		return c.Redirect(http.StatusFound, s.conf.BaseURL+s.gate.Location(d, parsed.RequestURI()))
	}

	if sess != nil && sess.User != nil {
		c.Response().Header().Set(headerUser, sess.User.ID)
		c.Response().Header().Set(headerRole, sess.User.Role)
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) Logger() echo.Logger {
	return s.echo.Logger
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(rw, r)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return utils.RunEcho(ctx, s.echo, fmt.Sprintf(":%d", s.conf.ListenPort))
}
