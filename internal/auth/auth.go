// Package auth issues and validates session tokens. Tokens are HMAC-signed
// JWTs with a short lifetime; validation is rate limited per source so a
// misbehaving client cannot brute-force the gate.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors returned by the gate.
var (
	// ErrTokenInvalid covers missing, malformed, wrongly signed, and
	// wrongly typed tokens.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrRateLimited is returned when a source exceeds the validation
	// attempt budget.
	ErrRateLimited = errors.New("auth: rate limited")

	// ErrAdminRequired is returned by RequireAdmin for non-admin views.
	ErrAdminRequired = errors.New("auth: admin required")

	// ErrNotInvited is returned by IssueSessionToken under invite-only
	// policy for users without an invite.
	ErrNotInvited = errors.New("auth: not invited")
)

// UserView is the authenticated identity handed to the rest of the core.
type UserView struct {
	UserID string
	Admin  bool
}

// sessionClaims is the internal claims type used for JWT parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin,omitempty"`
}

// Config defines how session tokens are signed and verified.
type Config struct {
	Secret        []byte
	Issuer        string
	TokenLifetime time.Duration

	// InviteOnly refuses token issuance for users without an invite.
	// Admin issuance is exempt so operators can bootstrap.
	InviteOnly bool

	// Rate limit for validation attempts per source.
	MaxAttempts int
	Window      time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Gate issues and validates session tokens. All methods are safe for
// concurrent use.
type Gate struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
	invited  map[string]bool
}

// NewGate builds a gate from cfg. The signing secret is required.
func NewGate(cfg Config) (*Gate, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "arkmoor"
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		cfg:      cfg,
		now:      cfg.Now,
		attempts: make(map[string][]time.Time),
		invited:  make(map[string]bool),
	}, nil
}

// Invite marks userID as eligible for token issuance under invite-only
// policy. A no-op when the policy is off.
func (g *Gate) Invite(userID string) {
	g.mu.Lock()
	g.invited[userID] = true
	g.mu.Unlock()
}

// Revoke removes userID's invite.
func (g *Gate) Revoke(userID string) {
	g.mu.Lock()
	delete(g.invited, userID)
	g.mu.Unlock()
}

// IssueSessionToken produces a time-bounded token for userID. The admin
// flag is carried as a claim and surfaces on the validated view. Under
// invite-only policy, non-admin issuance requires a prior Invite.
func (g *Gate) IssueSessionToken(userID string, admin bool) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("auth: user id is required")
	}
	if g.cfg.InviteOnly && !admin {
		g.mu.Lock()
		ok := g.invited[userID]
		g.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNotInvited, userID)
		}
	}
	now := g.now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.cfg.Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.cfg.TokenLifetime)),
		},
		Admin: admin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken verifies token and returns the identity it carries.
// Attempts are counted against source regardless of outcome.
func (g *Gate) ValidateSessionToken(source, token string) (UserView, error) {
	if !g.allow(source) {
		return UserView{}, ErrRateLimited
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return UserView{}, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return g.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(g.cfg.Issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return UserView{}, ErrTokenExpired
		}
		return UserView{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if parsed.Subject == "" {
		return UserView{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return UserView{UserID: parsed.Subject, Admin: parsed.Admin}, nil
}

// RequireAdmin returns ErrAdminRequired unless view carries the admin flag.
func (g *Gate) RequireAdmin(view UserView) error {
	if !view.Admin {
		return ErrAdminRequired
	}
	return nil
}

// allow records an attempt for source and reports whether it is within the
// sliding-window budget.
func (g *Gate) allow(source string) bool {
	now := g.now()
	cutoff := now.Add(-g.cfg.Window)

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.attempts[source][:0]
	for _, t := range g.attempts[source] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= g.cfg.MaxAttempts {
		g.attempts[source] = kept
		return false
	}
	g.attempts[source] = append(kept, now)
	return true
}
