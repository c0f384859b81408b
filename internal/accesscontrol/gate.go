// Package accesscontrol decides, per request, whether to let it through or send it somewhere
// else. It only ever looks at the path and the session token, never the user store, so it
// can run in the edge gate as well as the full server.
package accesscontrol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lachlan2k/gatehouse/internal/config"
	"github.com/lachlan2k/gatehouse/internal/session"
	"github.com/lachlan2k/gatehouse/internal/utils"
)

type RouteClass int

const (
	RouteProtected RouteClass = iota
	RouteAPI
	RouteStaticAsset
	RouteLoginPage
	// Paths outside the gate entirely, e.g. framework internals
	RouteExcluded
)

func (r RouteClass) String() string {
	switch r {
	case RouteAPI:
		return "api"
	case RouteStaticAsset:
		return "static-asset"
	case RouteLoginPage:
		return "login-page"
	case RouteExcluded:
		return "excluded"
	default:
		return "protected"
	}
}

type Action int

const (
	Pass Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "pass"
}

type Decision struct {
	Class  RouteClass
	Action Action
	// Only set when Action is Redirect
	Target string
}

type Gate struct {
	apiPrefix     string
	loginPath     string
	homePath      string
	staticPattern *regexp.Regexp
	excluded      []string
}

func NewGate(conf config.AuthConfig) (*Gate, error) {
	pattern, err := regexp.Compile(conf.StaticAssetPattern)
	if err != nil {
		return nil, fmt.Errorf("auth.static_asset_pattern doesn't compile: %w", err)
	}

	apiPrefix := strings.TrimRight(conf.APIPrefix, "/")
	if apiPrefix == "" {
		return nil, errors.New("auth.api_prefix must name a path below /")
	}

	return &Gate{
		apiPrefix:     apiPrefix,
		loginPath:     conf.LoginPath,
		homePath:      conf.HomePath,
		staticPattern: pattern,
		excluded:      conf.ExcludedPaths,
	}, nil
}

func (g *Gate) LoginPath() string {
	return g.loginPath
}

func (g *Gate) isAPI(path string) bool {
	return path == g.apiPrefix || strings.HasPrefix(path, g.apiPrefix+"/")
}

// Classify works out which kind of route path is. The checks run in order, so an API path
// ending in .js is still an API path.
func (g *Gate) Classify(path string) RouteClass {
	switch {
	case utils.MatchesAny(g.excluded, path):
		return RouteExcluded
	case g.isAPI(path):
		return RouteAPI
	case g.staticPattern.MatchString(path):
		return RouteStaticAsset
	case path == g.loginPath:
		return RouteLoginPage
	default:
		return RouteProtected
	}
}

// Decide is the whole gating policy. sess is nil when the request had no valid session.
//
// API routes pass regardless: every API handler checks the session itself.
func (g *Gate) Decide(path string, sess *session.Session) Decision {
	class := g.Classify(path)
	d := Decision{Class: class, Action: Pass}

	switch class {
	case RouteLoginPage:
		if sess != nil {
			d.Action = Redirect
			d.Target = g.homePath
		}
	case RouteProtected:
		if sess == nil {
			d.Action = Redirect
			d.Target = g.loginPath
		}
	}

	return d
}
