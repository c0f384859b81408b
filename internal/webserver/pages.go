package webserver

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/accesscontrol"
)

var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "head"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}

{{define "login"}}{{template "head" .}}
<h1>{{if .Setup}}Create the first account{{else}}Sign in{{end}}</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="{{if .Setup}}{{.SetupAction}}{{else}}{{.LoginAction}}{{end}}">
  <input type="hidden" name="redir" value="{{.Redirect}}">
  <label>Email <input type="email" name="email" autocomplete="username" required></label>
  <label>Password <input type="password" name="password" autocomplete="{{if .Setup}}new-password{{else}}current-password{{end}}" required></label>
  <button type="submit">{{if .Setup}}Create admin account{{else}}Sign in{{end}}</button>
</form>
{{if and .SSOAction (not .Setup)}}<p><a href="{{.SSOAction}}">Sign in with single sign-on</a></p>{{end}}
{{template "foot" .}}{{end}}

{{define "home"}}{{template "head" .}}
<h1>Signed in</h1>
<p>User <code>{{.UserID}}</code>, role <code>{{.Role}}</code>.</p>
<form method="post" action="{{.LogoutAction}}"><button type="submit">Sign out</button></form>
{{template "foot" .}}{{end}}
`))

var loginErrors = map[string]string{
	"invalid":       "Incorrect email or password.",
	"setup-closed":  "Setup has already been completed. Please sign in.",
	"setup-invalid": "Please use a valid email and a password of at least 8 characters.",
	"unavailable":   "Something went wrong on our end. Please try again shortly.",
	"sso":           "Single sign-on didn't work for that account.",
}

func (w *Webserver) render(c echo.Context, name string, data map[string]any) error {
	data["Title"] = "gatehouse"

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("couldn't render %s page: %w", name, err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (w *Webserver) loginPageHandler(c echo.Context) error {
	setup, err := w.auth.SetupNeeded(c.Request().Context())
	if err != nil {
		// Still show the login form; the login attempt will report the outage
		c.Echo().Logger.Errorf("Couldn't check whether setup is needed: %v", err)
		setup = false
	}

	data := map[string]any{
		"Setup":       setup,
		"Error":       loginErrors[c.QueryParam("error")],
		"Redirect":    c.QueryParam("redir"),
		"LoginAction": w.conf.Auth.APIPrefix + "/auth/login",
		"SetupAction": w.conf.Auth.APIPrefix + "/auth/setup",
		"SSOAction":   "",
	}
	if w.oidcUtils != nil {
		data["SSOAction"] = w.conf.Auth.APIPrefix + "/auth/sso?redir=" + url.QueryEscape(c.QueryParam("redir"))
	}

	return w.render(c, "login", data)
}

func (w *Webserver) homePageHandler(c echo.Context) error {
	// The gate has already made sure this is set
	sess := accesscontrol.SessionFrom(c)
	if sess == nil || sess.User == nil {
		return c.Redirect(http.StatusFound, w.conf.Auth.LoginPath)
	}

	return w.render(c, "home", map[string]any{
		"UserID":       sess.User.ID,
		"Role":         sess.User.Role,
		"LogoutAction": w.conf.Auth.APIPrefix + "/auth/logout",
	})
}
