package auth

import "context"

type contextKey string

const callerKey contextKey = "caller"

// Principal is a resolved, existing user.
type Principal struct {
	Email string
	Role  string
}

// Caller is the outcome of authentication: either anonymous or a resolved
// principal. The zero value is anonymous.
type Caller struct {
	principal *Principal
}

func Anonymous() Caller {
	return Caller{}
}

func Authenticated(p Principal) Caller {
	return Caller{principal: &p}
}

// Principal returns the authenticated user and true, or false for an anonymous caller.
func (c Caller) Principal() (Principal, bool) {
	if c.principal == nil {
		return Principal{}, false
	}
	return *c.principal, true
}

func (c Caller) IsAnonymous() bool {
	return c.principal == nil
}

// WithCaller attaches the caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller set by the auth middleware, or
// Anonymous when none was set.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey).(Caller)
	return c
}
