// Package auth holds the token reference shared by every request a client makes.
//
// ArcGIS services accept a short-lived token as the `token` request parameter.
// A Context carries an optional default token for all callers sharing it; a
// per-call token always takes precedence. Token validity is never tracked here:
// an expired token is discovered when the server answers with code 498 or 499.
package auth

import "sync"

// Context is a guarded default-token reference. The zero value is ready to use
// and holds no token. A Context must not be copied after first use.
type Context struct {
	mu           sync.RWMutex
	defaultToken string
}

// NewContext creates a Context with the given default token (may be empty).
func NewContext(defaultToken string) *Context {
	return &Context{defaultToken: defaultToken}
}

// SetDefault replaces the default token. Requests already in flight keep the
// token they resolved when they were built.
func (c *Context) SetDefault(token string) {
	c.mu.Lock()
	c.defaultToken = token
	c.mu.Unlock()
}

// ClearDefault removes the default token.
func (c *Context) ClearDefault() {
	c.SetDefault("")
}

// Default returns the current default token, or "" if none is set.
func (c *Context) Default() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultToken
}

// Resolve picks the token for one request: explicit wins, then the default,
// then no token ("").
func (c *Context) Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c == nil {
		return ""
	}
	return c.Default()
}
