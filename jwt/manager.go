// Package jwt issues and verifies the three token types used by the
// engine: access, refresh and mfa_pending.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type values carried in the "typ" claim. Parse enforces an exact
// match so a pending token can never be presented where an access token
// is expected.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypePending = "mfa_pending"
)

var (
	ErrMalformed = errors.New("jwt: token malformed or signature invalid")
	ErrExpired   = errors.New("jwt: token expired")
	ErrWrongType = errors.New("jwt: unexpected token type")
)

// Claims is the single claim set for all token types.
type Claims struct {
	TenantID  string `json:"tid"`
	TokenType string `json:"typ"`
	// SessionID links access tokens to the refresh session that issued
	// them. Empty on pending tokens.
	SessionID string `json:"sid,omitempty"`

	jwtlib.RegisteredClaims
}

// Config holds signing material and verification settings.
type Config struct {
	SigningMethod string // "hs256" or "eddsa"
	Secret        []byte
	PrivateKey    any
	PublicKey     any

	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Manager signs and parses tokens. Construct once, use concurrently.
type Manager struct {
	method    jwtlib.SigningMethod
	signKey   any
	verifyKey any

	issuer   string
	audience string
	leeway   time.Duration

	parser *jwtlib.Parser
}

// New validates the configuration and returns a ready Manager.
func New(cfg Config) (*Manager, error) {
	m := &Manager{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
	}

	switch cfg.SigningMethod {
	case "hs256":
		if len(cfg.Secret) < 32 {
			return nil, errors.New("jwt: hs256 secret must be at least 32 bytes")
		}
		m.method = jwtlib.SigningMethodHS256
		m.signKey = cfg.Secret
		m.verifyKey = cfg.Secret
	case "eddsa":
		priv, ok := cfg.PrivateKey.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("jwt: eddsa requires ed25519.PrivateKey")
		}
		pub, ok := cfg.PublicKey.(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("jwt: eddsa requires ed25519.PublicKey")
		}
		m.method = jwtlib.SigningMethodEdDSA
		m.signKey = priv
		m.verifyKey = pub
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{m.method.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	m.parser = jwtlib.NewParser(opts...)

	return m, nil
}

// Issued describes a token the manager just signed.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// IssueAccess signs an access token bound to the given refresh session.
func (m *Manager) IssueAccess(accountID, tenantID, sessionID string, ttl time.Duration) (Issued, error) {
	return m.issue(TypeAccess, accountID, tenantID, sessionID, ttl)
}

// IssueRefresh signs a refresh token. Its ID keys the session registry.
func (m *Manager) IssueRefresh(accountID, tenantID string, ttl time.Duration) (Issued, error) {
	out, err := m.issue(TypeRefresh, accountID, tenantID, "", ttl)
	if err != nil {
		return Issued{}, err
	}
	return out, nil
}

// IssuePending signs the short-lived token bridging password success and
// MFA completion. It grants no access by itself.
func (m *Manager) IssuePending(accountID, tenantID string, ttl time.Duration) (Issued, error) {
	return m.issue(TypePending, accountID, tenantID, "", ttl)
}

func (m *Manager) issue(typ, accountID, tenantID, sessionID string, ttl time.Duration) (Issued, error) {
	now := time.Now()
	exp := now.Add(ttl)
	jti := uuid.NewString()

	claims := Claims{
		TenantID:  tenantID,
		TokenType: typ,
		SessionID: sessionID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.issuer,
			ID:        jti,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	if m.audience != "" {
		claims.Audience = jwtlib.ClaimStrings{m.audience}
	}

	signed, err := jwtlib.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return Issued{}, fmt.Errorf("jwt: signing: %w", err)
	}
	return Issued{Token: signed, ID: jti, ExpiresAt: exp}, nil
}

// Parse verifies signature, expiry and token type, in that order.
// Expired-but-otherwise-valid tokens return ErrExpired so callers can
// distinguish expiry from tampering.
func (m *Manager) Parse(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := m.parser.ParseWithClaims(token, claims, func(t *jwtlib.Token) (any, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongType
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}
