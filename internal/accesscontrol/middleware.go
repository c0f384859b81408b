package accesscontrol

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/session"
)

const sessionContextKey = "gatehouse.session"

// Recorder gets every gate decision. It may be nil.
type Recorder interface {
	GateDecision(class, action string)
}

// Location turns a decision into a Location header value. Redirects to the login page
// remember where the user was going.
func (g *Gate) Location(d Decision, requestURI string) string {
	if d.Target == g.loginPath && requestURI != "" {
		return d.Target + "?redir=" + url.QueryEscape(requestURI)
	}
	return d.Target
}

// Middleware runs the gate in front of every handler. A token that fails to verify for any
// reason is treated as no token at all.
func Middleware(gate *Gate, reader session.Reader, logger echo.Logger, rec Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			class := gate.Classify(req.URL.Path)
			if class == RouteExcluded || class == RouteStaticAsset {
				if rec != nil {
					rec.GateDecision(class.String(), Pass.String())
				}
				return next(c)
			}

			sess, err := reader.GetSession(c)
			if err != nil {
				if !errors.Is(err, session.ErrInvalidSession) {
					logger.Warnf("unexpected error occured getting session data: %v", err)
				}
				sess = nil
			}

			d := gate.Decide(req.URL.Path, sess)
			if rec != nil {
				rec.GateDecision(d.Class.String(), d.Action.String())
			}

			if d.Action == Redirect {
				return c.Redirect(http.StatusFound, gate.Location(d, req.URL.RequestURI()))
			}

			if sess != nil {
				c.Set(sessionContextKey, sess)
			}
			return next(c)
		}
	}
}

// SessionFrom returns the session the middleware verified for this request, or nil.
func SessionFrom(c echo.Context) *session.Session {
	sess, _ := c.Get(sessionContextKey).(*session.Session)
	return sess
}
