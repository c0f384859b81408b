package webserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/auth"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/users"
	"github.com/lachlan2k/gatehouse/internal/utils"
)

type credentialsReq struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Redirect string `json:"redir" form:"redir"`
}

type unauthorizedResponse struct {
	Error string `json:"error"`
}

// ExpiresAt marshals as RFC 3339, the same as auth.Grant's.
type sessionRes struct {
	User      *session.User `json:"user"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func wantsJSON(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

// Where to send the browser after a successful login
func (w *Webserver) afterLogin(redir string) string {
	if utils.IsLocalRedirect(redir) && redir != w.conf.Auth.LoginPath {
		return redir
	}
	return w.conf.Auth.HomePath
}

func (w *Webserver) loginPageURL(errCode, redir string) string {
	q := url.Values{}
	if errCode != "" {
		q.Set("error", errCode)
	}
	if redir != "" {
		q.Set("redir", redir)
	}
	if len(q) == 0 {
		return w.conf.Auth.LoginPath
	}
	return w.conf.Auth.LoginPath + "?" + q.Encode()
}

func (w *Webserver) loginRouteHandler(c echo.Context) error {
	logger := c.Echo().Logger

	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, unauthorizedResponse{Error: "Malformed login request"})
	}

	grant, err := w.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrRejected) {
			if wantsJSON(c) {
				return c.JSON(http.StatusUnauthorized, unauthorizedResponse{Error: "Invalid email or password"})
			}
			return c.Redirect(http.StatusSeeOther, w.loginPageURL("invalid", req.Redirect))
		}

		logger.Errorf("Login couldn't be completed: %v", err)
		if wantsJSON(c) {
			return c.JSON(http.StatusServiceUnavailable, unauthorizedResponse{Error: "Login is temporarily unavailable"})
		}
		return c.String(http.StatusServiceUnavailable, "Login is temporarily unavailable, please try again shortly")
	}

	w.sessionHandler.Start(c, grant.Token, grant.ExpiresAt)

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, grant)
	}
	return c.Redirect(http.StatusSeeOther, w.afterLogin(req.Redirect))
}

func (w *Webserver) setupRouteHandler(c echo.Context) error {
	logger := c.Echo().Logger

	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, unauthorizedResponse{Error: "Malformed setup request"})
	}

	grant, err := w.auth.Setup(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		var status int
		var code, msg string
		switch {
		case errors.Is(err, auth.ErrSetupClosed):
			status, code, msg = http.StatusForbidden, "setup-closed", err.Error()
		case errors.Is(err, auth.ErrWeakSecret), errors.Is(err, auth.ErrInvalidEmail):
			status, code, msg = http.StatusBadRequest, "setup-invalid", err.Error()
		default:
			logger.Errorf("Setup couldn't be completed: %v", err)
			status, code, msg = http.StatusServiceUnavailable, "unavailable", "Setup is temporarily unavailable"
		}

		if wantsJSON(c) {
			return c.JSON(status, unauthorizedResponse{Error: msg})
		}
		return c.Redirect(http.StatusSeeOther, w.loginPageURL(code, ""))
	}

	logger.Infof("Initial admin user created for %s", users.NormalizeEmail(req.Email))
	w.sessionHandler.Start(c, grant.Token, grant.ExpiresAt)

	if wantsJSON(c) {
		return c.JSON(http.StatusCreated, grant)
	}
	return c.Redirect(http.StatusSeeOther, w.conf.Auth.HomePath)
}

func (w *Webserver) logoutRouteHandler(c echo.Context) error {
	w.sessionHandler.Destroy(c)

	if wantsJSON(c) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, w.conf.Auth.LoginPath)
}

// API routes get no help from the gate, so each one checks the session itself.
func (w *Webserver) requireSession(c echo.Context) (*session.Session, error) {
	sess, err := w.sessionHandler.GetSession(c)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSession) {
			c.Echo().Logger.Printf("unexpected error occured getting session data: %v", err)
		}
		return nil, c.JSON(http.StatusUnauthorized, unauthorizedResponse{
			Error: "Unauthorized",
		})
	}
	return sess, nil
}

func (w *Webserver) sessionRouteHandler(c echo.Context) error {
	sess, err := w.requireSession(c)
	if sess == nil {
		return err
	}

	return c.JSON(http.StatusOK, sessionRes{
		User:      sess.User,
		ExpiresAt: sess.ExpiresAt,
	})
}
