// Package auth issues and verifies Rankwatch API keys and carries the
// authenticated principal through request contexts.
package auth

import (
	"context"

	"github.com/rankwatch/rankwatch/internal/model"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*model.Principal)
	return p, ok && p != nil
}

// OwnerID returns the account that owns the calling key, or "" for
// unauthenticated contexts.
func OwnerID(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return ""
}
