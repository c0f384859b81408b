package utils

import (
	"net/url"
	"strings"
)

// Allows you to specify *@example.com for a suffix match, or /_next* for a prefix match.
// Anything else is a literal match
func MatchesWithWildcard(valueToEvaluate string, matcher string) bool {
	if matcher == "" {
		return valueToEvaluate == ""
	}
	if matcher[0] == '*' {
		return strings.HasSuffix(valueToEvaluate, matcher[1:])
	}
	if matcher[len(matcher)-1] == '*' {
		return strings.HasPrefix(valueToEvaluate, matcher[:len(matcher)-1])
	}
	return valueToEvaluate == matcher
}

// MatchesAny reports whether value matches any of the matchers
func MatchesAny(matchers []string, value string) bool {
	for _, m := range matchers {
		if MatchesWithWildcard(value, m) {
			return true
		}
	}

	return false
}

// Checks that redir is a path on this site (not //evil.com or https://evil.com).
// Browsers drop tabs and newlines from URLs, so any control character is refused outright.
func IsLocalRedirect(redir string) bool {
	if redir == "" || redir[0] != '/' {
		return false
	}
	if hasUnsafeByte(redir) {
		return false
	}

	parsed, err := url.Parse(redir)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" || parsed.User != nil {
		return false
	}

	// Decoding catches %09 and friends, which some proxies unescape before the browser sees them
	path, err := url.PathUnescape(parsed.EscapedPath())
	if err != nil || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return false
	}
	return !hasUnsafeByte(path)
}

func hasUnsafeByte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f || s[i] == '\\' {
			return true
		}
	}
	return false
}
