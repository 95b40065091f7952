// Package auth implements bearer credential validation against the JWT
// signing parameters and the shared revocation list.
package auth

import (
	"context"

	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/internal/presence"
	pkgauth "github.com/example/chat-realtime/pkg/auth"
)

// Validator is a pure check: it never mutates the revocation list.
// Insertion happens in the logout and refresh flows.
type Validator struct {
	tokens *pkgauth.Manager
	store  presence.Store
}

func NewValidator(tokens *pkgauth.Manager, store presence.Store) *Validator {
	return &Validator{tokens: tokens, store: store}
}

// Validate resolves a bearer token to the embedded identity. The
// revocation list is consulted before any signature work: a
// cryptographically valid token may still have been explicitly revoked.
// Callers only ever see Unauthorized plus a coarse reason class.
func (v *Validator) Validate(ctx context.Context, bearer string) (*domain.Identity, error) {
	if bearer == "" {
		return nil, domain.Unauthorized(domain.ReasonTokenMissing)
	}

	revoked, err := v.store.IsBlacklisted(ctx, pkgauth.HashToken(bearer))
	if err != nil {
		// Degraded store answers "not blacklisted"; any other failure is
		// treated the same way rather than locking every user out.
		revoked = false
	}
	if revoked {
		return nil, domain.Unauthorized(domain.ReasonTokenRevoked)
	}

	claims, err := v.tokens.ValidateAccessToken(bearer)
	if err != nil {
		if pkgauth.IsExpired(err) {
			return nil, domain.Unauthorized(domain.ReasonTokenExpired)
		}
		return nil, domain.Unauthorized(domain.ReasonTokenInvalid)
	}

	return &domain.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
