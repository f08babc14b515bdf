package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ats-platform/internal/config"
	"ats-platform/internal/rbac"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionTTL is the fixed lifetime of a session token.
const SessionTTL = 7 * 24 * time.Hour

const clockSkew = 30 * time.Second

var ErrInvalidToken = errors.New("auth: invalid token")

type Manager struct {
	secret   []byte
	issuer   string
	audience string
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}, nil
}

/* ===================== ISSUE ===================== */

// Issue signs a session token for id. id.TokenID is ignored; a fresh token id
// is generated for every session.
func (m *Manager) Issue(now time.Time, id Identity) (string, time.Time, error) {
	if id.UserID == "" || id.Email == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject and email are required", ErrInvalidToken)
	}
	if !id.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: %v", rbac.ErrInvalidRole, id.Role)
	}

	expiresAt := now.Add(SessionTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email: id.Email,
		Name:  id.Name,
		Role:  id.Role.String(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

/* ===================== VERIFY ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// Custom claims validation
	if claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: iat missing", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return Claims{}, fmt.Errorf("%w: email missing", ErrInvalidToken)
	}
	if _, err := rbac.ParseRole(claims.Role); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims, nil
}

// Identity converts verified claims into a request identity.
func (c Claims) Identity() (Identity, error) {
	role, err := rbac.ParseRole(c.Role)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		UserID:  c.Subject,
		Email:   c.Email,
		Name:    c.Name,
		Role:    role,
		TokenID: c.ID,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
