package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
)

// DelegationHeader carries the delegation token next to the admin's Firebase bearer token.
const DelegationHeader = "X-Delegation-Token"

const (
	defaultDelegationIssuer = "rede-afiliados-api"
	delegationAudience      = "delegation"
	minDelegationSecretLen  = 32
)

var (
	// ErrDelegationInvalid signals a malformed, tampered or expired delegation token.
	ErrDelegationInvalid = errors.New("auth: delegation token invalid")
	// ErrDelegationActorMismatch signals the token was minted for another admin.
	ErrDelegationActorMismatch = errors.New("auth: delegation actor mismatch")
)

// DelegationActor follows the token-exchange "act" claim shape.
type DelegationActor struct {
	Subject string `json:"sub"`
}

// DelegationClaims are the JWT claims of a delegation token. Subject is the profile being
// acted for and Scope is a space separated capability list.
type DelegationClaims struct {
	jwt.RegisteredClaims
	Actor DelegationActor `json:"act"`
	Scope string          `json:"scope"`
}

// Scopes splits the scope claim.
func (c *DelegationClaims) Scopes() []string {
	if c == nil {
		return nil
	}
	return strings.Fields(strings.ToLower(c.Scope))
}

// DelegationIssuer mints and verifies HS256 delegation tokens.
type DelegationIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// DelegationOption customises the issuer.
type DelegationOption func(*DelegationIssuer)

// WithDelegationClock overrides the clock used for issuing and validating tokens.
func WithDelegationClock(now func() time.Time) DelegationOption {
	return func(d *DelegationIssuer) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDelegationIssuerName overrides the iss claim.
func WithDelegationIssuerName(name string) DelegationOption {
	return func(d *DelegationIssuer) {
		if name = strings.TrimSpace(name); name != "" {
			d.issuer = name
		}
	}
}

// NewDelegationIssuer builds an issuer. The signing secret must be at least 32 bytes.
func NewDelegationIssuer(secret string, opts ...DelegationOption) (*DelegationIssuer, error) {
	if len(secret) < minDelegationSecretLen {
		return nil, fmt.Errorf("auth: delegation secret must be at least %d bytes", minDelegationSecretLen)
	}
	d := &DelegationIssuer{
		secret: []byte(secret),
		issuer: defaultDelegationIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// IssueDelegation signs a token letting actorID act as subjectID within scopes for ttl.
func (d *DelegationIssuer) IssueDelegation(actorID, subjectID string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	actorID = strings.TrimSpace(actorID)
	subjectID = strings.TrimSpace(subjectID)
	if actorID == "" || subjectID == "" {
		return "", time.Time{}, errors.New("auth: delegation actor and subject are required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: delegation ttl must be positive")
	}

	issuedAt := d.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	claims := DelegationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    d.issuer,
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{delegationAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Actor: DelegationActor{Subject: actorID},
		Scope: strings.Join(scopes, " "),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign delegation: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses the token and checks signature, expiry, issuer and actor.
func (d *DelegationIssuer) Verify(raw, actorID string) (*DelegationClaims, error) {
	claims := &DelegationClaims{}
	// Time claims are checked below against the issuer clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return d.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrDelegationInvalid, err)
	}

	now := d.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, fmt.Errorf("%w: expired", ErrDelegationInvalid)
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: not yet valid", ErrDelegationInvalid)
	}
	if !claims.VerifyIssuer(d.issuer, true) || !claims.VerifyAudience(delegationAudience, true) {
		return nil, fmt.Errorf("%w: wrong issuer or audience", ErrDelegationInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrDelegationInvalid)
	}
	if claims.Actor.Subject != actorID {
		return nil, ErrDelegationActorMismatch
	}
	return claims, nil
}
