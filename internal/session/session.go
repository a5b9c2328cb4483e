// Package session carries the authenticated identity of a request and the
// stores that turn it into an opaque token and back.
package session

import (
	"context"
	"errors"

	"taskr/internal/model"
)

// ErrNoSession is returned by Lookup for unknown, expired or cleared tokens.
var ErrNoSession = errors.New("no session")

// Identity is what a logged-in request knows about its user.
type Identity struct {
	UserID uint       `json:"uid"`
	Name   string     `json:"name"`
	Role   model.Role `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role.IsAdmin()
}

// Store establishes, resolves and clears session identities.
type Store interface {
	Establish(ctx context.Context, id Identity) (string, error)
	Lookup(ctx context.Context, token string) (Identity, error)
	Clear(ctx context.Context, token string) error
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID == 0 {
		return Identity{}, false
	}
	return id, true
}
