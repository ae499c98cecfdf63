// Package auth supplies the authenticated principal that scopes every task
// operation: from a verified request, or from an interactive session.
package auth

import "context"

// Principal is an authenticated user. UID is the stable partition key.
type Principal struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// PrincipalProvider yields the current principal id, or false when nobody is signed in.
type PrincipalProvider interface {
	CurrentPrincipalID(ctx context.Context) (string, bool)
}

// ContextKey is a custom type to avoid context key collisions.
type ContextKey string

const principalKey ContextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UID == "" {
		return Principal{}, false
	}
	return p, true
}

// ContextProvider reads the principal from the request context.
type ContextProvider struct{}

func (ContextProvider) CurrentPrincipalID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.UID, ok
}
