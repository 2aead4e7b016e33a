package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tenantgov.org/internal/tenant"
)

const defaultIssuer = "tenantgov"

// Claims represents JWT claims presented at the kernel boundary.
type Claims struct {
	TenantID   int64    `json:"tid"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	AuthMethod string   `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a token asserts about its bearer.
type Identity struct {
	TenantID   tenant.ID
	UserID     tenant.UserID
	Email      string
	Roles      []string
	AuthMethod AuthMethod
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens validates the secret and builds a token codec.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	t := &Tokens{secret: []byte(secret), issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for id valid for ttl.
func (t *Tokens) Issue(id Identity, ttl time.Duration) (string, error) {
	if !id.TenantID.Valid() {
		return "", errors.New("tenant id is required")
	}
	if id.UserID.IsZero() {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	method := id.AuthMethod
	if method == 0 {
		method = AuthMethodToken
	}
	now := t.now().UTC()
	claims := Claims{
		TenantID:   id.TenantID.Int64(),
		Email:      id.Email,
		Roles:      dedupeRoles(id.Roles),
		AuthMethod: method.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and claims and returns the asserted identity.
func (t *Tokens) Parse(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithLeeway(5*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	tenantID, err := tenant.NewID(claims.TenantID)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	userID, err := tenant.ParseUserID(claims.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	method, err := ParseAuthMethod(claims.AuthMethod)
	if err != nil || method == AuthMethodSystem {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		TenantID:   tenantID,
		UserID:     userID,
		Email:      claims.Email,
		Roles:      dedupeRoles(claims.Roles),
		AuthMethod: method,
	}, nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" || role == RoleSystem {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
