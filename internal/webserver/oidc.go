package webserver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/auth"
	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/lachlan2k/gatehouse/internal/utils"
	"golang.org/x/oauth2"
)

const nonceCookieName = "_oauth_state_nonce"

type oidcUtils struct {
	ctx      context.Context
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

func makeOIDCUtils(conf *config.Config) (*oidcUtils, error) {
	utils := &oidcUtils{}
	utils.ctx = context.Background()

	shouldOverrideDiscovery := conf.OIDC.IssuerDiscoveryOverrideURL != ""

	var err error

	if shouldOverrideDiscovery {
		utils.ctx = oidc.InsecureIssuerURLContext(utils.ctx, conf.OIDC.IssuerURL)
		utils.provider, err = oidc.NewProvider(utils.ctx, conf.OIDC.IssuerDiscoveryOverrideURL)
	} else {
		utils.provider, err = oidc.NewProvider(utils.ctx, conf.OIDC.IssuerURL)
	}

	if err != nil {
		return nil, err
	}

	endpoint := utils.provider.Endpoint()

	if shouldOverrideDiscovery {
		endpoint.AuthURL = strings.Replace(endpoint.AuthURL, conf.OIDC.IssuerDiscoveryOverrideURL, conf.OIDC.IssuerURL, 1)
	}

	utils.config = &oauth2.Config{
		ClientID:     conf.OIDC.ClientID,
		ClientSecret: conf.OIDC.ClientSecret,
		RedirectURL:  conf.OIDC.RedirectURL,

		Endpoint: endpoint,
		Scopes:   append([]string{oidc.ScopeOpenID, "email", "profile"}, conf.OIDC.AdditionalScopes...),
	}

	utils.verifier = utils.provider.Verifier(&oidc.Config{ClientID: conf.OIDC.ClientID})

	return utils, nil
}

type oauthState struct {
	Nonce    string
	Redirect string
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
}

func (w *Webserver) ssoRouteHandler(c echo.Context) error {
	logger := c.Echo().Logger

	nonceBuff := make([]byte, 16)
	_, err := rand.Read(nonceBuff)
	if err != nil {
		logger.Errorf("Failed to generate random material for oauth nonce: %v", err)
		return c.String(http.StatusInternalServerError, "Something went wrong")
	}

	nonceStr := base64.RawURLEncoding.EncodeToString(nonceBuff)
	state := oauthState{
		Nonce:    nonceStr,
		Redirect: c.QueryParam("redir"),
	}

	stateBuff, err := json.Marshal(state)
	if err != nil {
		logger.Errorf("Failed to marshal state for oauth: %v", err)
		return c.String(http.StatusInternalServerError, "Something went wrong")
	}

	c.SetCookie(&http.Cookie{
		Name:     nonceCookieName,
		Value:    nonceStr,
		Expires:  time.Now().Add(5 * time.Minute),
		Secure:   w.conf.Auth.Cookie.Secure,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return c.Redirect(http.StatusFound, w.oidcUtils.config.AuthCodeURL(string(stateBuff)))
}

func (w *Webserver) callbackRouteHandler(c echo.Context) error {
	logger := c.Echo().Logger

	var state oauthState
	err := json.Unmarshal([]byte(c.QueryParam("state")), &state)
	if err != nil {
		return c.String(http.StatusBadRequest, "Invalid state")
	}

	cookieNonce, err := c.Cookie(nonceCookieName)
	if err != nil || cookieNonce.Value == "" {
		return c.String(http.StatusBadRequest, "State cookie wasn't found: request likely expired")
	}

	if cookieNonce.Value != state.Nonce {
		return c.String(http.StatusBadRequest, "State nonce mismatch")
	}

	c.SetCookie(&http.Cookie{Name: nonceCookieName, Value: "", Path: "/", MaxAge: -1})

	code := c.QueryParam("code")
	if code == "" {
		return c.String(http.StatusBadRequest, "No code was provided")
	}

	ctx := oidc.ClientContext(c.Request().Context(), http.DefaultClient)
	if w.conf.OIDC.IssuerDiscoveryOverrideURL != "" {
		ctx = oidc.InsecureIssuerURLContext(ctx, w.conf.OIDC.IssuerURL)
	}

	token, err := w.oidcUtils.config.Exchange(ctx, code)
	if err != nil {
		logger.Printf("Couldn't perform oauth2 exchange: %v", err)
		return c.String(http.StatusInternalServerError, "Failed perform oauth2 exchange: provided code was likely invalid")
	}

	rawToken, ok := token.Extra("id_token").(string)
	if !ok {
		logger.Printf("Couldn't find an id_token in the oauth2 token response")
		return c.String(http.StatusInternalServerError, "Server received invalid oauth2 access token")
	}

	idToken, err := w.oidcUtils.verifier.Verify(ctx, rawToken)
	if err != nil {
		logger.Printf("id_token failed verification: %v", err)
		return c.String(http.StatusInternalServerError, "Server received invalid oauth2 access token")
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		logger.Printf("Couldn't extract claims from ID token: %v", err)
		return c.String(http.StatusInternalServerError, "Server received token with invalid claims")
	}

	email, err := ssoEmail(w.conf, claims)
	if err != nil {
		logger.Printf("Denied SSO login: %v", err)
		return c.Redirect(http.StatusSeeOther, w.loginPageURL("sso", ""))
	}

	grant, err := w.auth.LoginExternal(c.Request().Context(), email)
	if err != nil {
		if !errors.Is(err, auth.ErrRejected) {
			logger.Errorf("SSO login couldn't be completed: %v", err)
			return c.String(http.StatusServiceUnavailable, "Login is temporarily unavailable, please try again shortly")
		}
		logger.Printf("Denied SSO login for %s: no matching user", email)
		return c.Redirect(http.StatusSeeOther, w.loginPageURL("sso", ""))
	}

	w.sessionHandler.Start(c, grant.Token, grant.ExpiresAt)

	return c.Redirect(http.StatusSeeOther, w.afterLogin(state.Redirect))
}

// ssoEmail pulls the email out of verified ID token claims and checks it against the allowlist.
func ssoEmail(conf *config.Config, claims idTokenClaims) (string, error) {
	if claims.Email == "" {
		return "", errors.New("id token had no email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", errors.New("identity provider says " + claims.Email + " is unverified")
	}

	if len(conf.OIDC.EmailAllowlist) > 0 && !utils.MatchesAny(conf.OIDC.EmailAllowlist, strings.ToLower(claims.Email)) {
		return "", errors.New(claims.Email + " isn't in the allow list")
	}

	return claims.Email, nil
}
