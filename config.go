package accounts

import "time"

// SimpleConfig is a plain-struct Config for callers that do not bring their
// own configuration container. Zero values resolve to safe defaults through
// the getters; the struct is read once at startup and never mutated.
type SimpleConfig struct {
	SigningKey        string
	SigningMethod     string
	ContextKey        string
	TokenExpiration   int
	TokenLookup       string
	AuthScheme        string
	Issuer            string
	Audience          []string
	BcryptCost        int
	CookieSecure      bool
	RepositoryTimeout time.Duration
}

var _ Config = (*SimpleConfig)(nil)

func (c *SimpleConfig) GetSigningKey() string {
	return c.SigningKey
}

func (c *SimpleConfig) GetSigningMethod() string {
	if c.SigningMethod == "" {
		return "HS256"
	}
	return c.SigningMethod
}

// GetContextKey doubles as the auth cookie name and the router locals key.
func (c *SimpleConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return "jwt"
	}
	return c.ContextKey
}

// GetTokenExpiration is the token TTL in hours.
func (c *SimpleConfig) GetTokenExpiration() int {
	if c.TokenExpiration <= 0 {
		return 72
	}
	return c.TokenExpiration
}

func (c *SimpleConfig) GetTokenLookup() string {
	if c.TokenLookup == "" {
		return "header:Authorization,cookie:" + c.GetContextKey()
	}
	return c.TokenLookup
}

func (c *SimpleConfig) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c *SimpleConfig) GetIssuer() string {
	return c.Issuer
}

func (c *SimpleConfig) GetAudience() []string {
	return c.Audience
}

func (c *SimpleConfig) GetBcryptCost() int {
	if c.BcryptCost <= 0 {
		return passwordHashCost()
	}
	return c.BcryptCost
}

func (c *SimpleConfig) GetCookieSecure() bool {
	return c.CookieSecure
}

// GetRepositoryTimeout bounds every repository call made by the core.
func (c *SimpleConfig) GetRepositoryTimeout() time.Duration {
	if c.RepositoryTimeout <= 0 {
		return 10 * time.Second
	}
	return c.RepositoryTimeout
}
