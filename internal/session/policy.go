package session

// Policy shapes what goes into a token at login and what comes out of it on each request.
// Neither hook can fail: missing input just leaves the matching fields unset.
type Policy struct {
	// Runs once, when a token is minted for a freshly authenticated principal
	OnMint func(claims *Claims, principal *Principal) *Claims
	// Runs on every request, after the token has verified
	OnRead func(sess *Session, claims *Claims) *Session
}

func DefaultPolicy() Policy {
	return Policy{
		OnMint: mintRole,
		OnRead: readIdentity,
	}
}

func mintRole(claims *Claims, principal *Principal) *Claims {
	if claims != nil && principal != nil {
		claims.Role = principal.Role
	}
	return claims
}

func readIdentity(sess *Session, claims *Claims) *Session {
	if sess != nil && sess.User != nil && claims != nil {
		sess.User.ID = claims.Subject
		sess.User.Role = claims.Role
	}
	return sess
}

// withDefaults fills in whichever hook was left nil.
func (p Policy) withDefaults() Policy {
	if p.OnMint == nil {
		p.OnMint = mintRole
	}
	if p.OnRead == nil {
		p.OnRead = readIdentity
	}
	return p
}
