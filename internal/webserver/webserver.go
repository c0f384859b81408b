package webserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lachlan2k/gatehouse/internal/accesscontrol"
	"github.com/lachlan2k/gatehouse/internal/auth"
	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/lachlan2k/gatehouse/internal/metrics"
	"github.com/lachlan2k/gatehouse/internal/password"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/users"
	"github.com/lachlan2k/gatehouse/internal/utils"
)

// Webserver is the full server: login page, auth API and the app pages behind the gate.
type Webserver struct {
	echo           *echo.Echo
	conf           *config.Config
	gate           *accesscontrol.Gate
	sessionHandler *session.CookieHandler
	auth           *auth.Service
	oidcUtils      *oidcUtils
	metrics        *metrics.Metrics
}

func New(conf *config.Config, store users.Store, hasher password.Hasher, m *metrics.Metrics) (*Webserver, error) {
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

	authService, err := auth.NewService(store, hasher, codec, e.Logger, m)
	if err != nil {
		return nil, err
	}

	w := &Webserver{
		echo:           e,
		conf:           conf,
		gate:           gate,
		sessionHandler: session.NewCookieHandler(conf.Auth, codec),
		auth:           authService,
		metrics:        m,
	}

	if conf.OIDCEnabled() {
		w.oidcUtils, err = makeOIDCUtils(conf)
		if err != nil {
			return nil, fmt.Errorf("couldn't set up OIDC: %w", err)
		}
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(accesscontrol.Middleware(gate, w.sessionHandler, e.Logger, m))

	w.registerRoutes()

	return w, nil
}

func (w *Webserver) registerRoutes() {
	e := w.echo

	e.GET(w.conf.Auth.LoginPath, w.loginPageHandler)
	e.GET(w.conf.Auth.HomePath, w.homePageHandler)

	api := e.Group(w.conf.Auth.APIPrefix + "/auth")
	api.POST("/login", w.loginRouteHandler)
	api.POST("/logout", w.logoutRouteHandler)
	api.POST("/setup", w.setupRouteHandler)
	api.GET("/session", w.sessionRouteHandler)

	if w.oidcUtils != nil {
		api.GET("/sso", w.ssoRouteHandler)
		api.GET("/callback", w.callbackRouteHandler)
	}
}

func (w *Webserver) Logger() echo.Logger {
	return w.echo.Logger
}

func (w *Webserver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.echo.ServeHTTP(rw, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (w *Webserver) Run(ctx context.Context) error {
	return utils.RunEcho(ctx, w.echo, fmt.Sprintf(":%d", w.conf.ListenPort))
}
