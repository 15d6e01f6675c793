package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Role constants mirrored from the profile role stored in Firestore and in the Firebase custom claim.
const (
	RoleAffiliate = "affiliate"
	RoleAdmin     = "admin"
)

// ErrUserLoaderUnavailable indicates that the identity was created without a user loader.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// Delegation describes an admin acting on behalf of another profile.
type Delegation struct {
	ActorID    string
	ActorRoles []string
	Scopes     []string
	ExpiresAt  time.Time
}

// Identity captures the authenticated principal details extracted from a Firebase ID token.
// When Delegation is set, UID is still the admin who signed in and EffectiveUID is the
// profile being acted for.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string

	Delegation *Delegation
	subjectID  string

	token *firebaseauth.Token

	userLoader UserLoader
	once       sync.Once
	userRecord *firebaseauth.UserRecord
	userErr    error
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// EffectiveUID is the profile every handler reads and writes for.
func (i *Identity) EffectiveUID() string {
	if i == nil {
		return ""
	}
	if i.Delegation != nil && i.subjectID != "" {
		return i.subjectID
	}
	return i.UID
}

// IsDelegated reports whether the request runs under a delegation token.
func (i *Identity) IsDelegated() bool {
	return i != nil && i.Delegation != nil
}

// HasScope reports whether a delegated identity carries the scope. Non-delegated
// identities are unrestricted.
func (i *Identity) HasScope(scope string) bool {
	if i == nil {
		return false
	}
	if i.Delegation == nil {
		return true
	}
	scope = strings.ToLower(strings.TrimSpace(scope))
	for _, s := range i.Delegation.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// User resolves the Firebase user record of the signed-in principal on first access.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.userLoader == nil {
		return nil, ErrUserLoaderUnavailable
	}

	i.once.Do(func() {
		i.userRecord, i.userErr = i.userLoader(ctx, i.UID)
	})

	return i.userRecord, i.userErr
}

// delegate narrows the identity to the subject of a verified delegation.
func (i *Identity) delegate(claims *DelegationClaims) {
	i.Delegation = &Delegation{
		ActorID:    i.UID,
		ActorRoles: i.Roles,
		Scopes:     claims.Scopes(),
	}
	if claims.ExpiresAt != nil {
		i.Delegation.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	i.subjectID = claims.Subject
	i.Roles = []string{RoleAffiliate}
}

type contextKey string

const identityContextKey contextKey = "rede-afiliados/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// UserLoader fetches the Firebase user profile corresponding to a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
