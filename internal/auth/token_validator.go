package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 30 * time.Minute

var (
	ErrMissingSigningSecret = errors.New("token validator: signing secret required")
	ErrMissingIssuer        = errors.New("token validator: issuer required")
	ErrMissingToken         = errors.New("token validator: token required")
	ErrInvalidToken         = errors.New("token validator: invalid token")
	ErrExpiredToken         = errors.New("token validator: token expired")
)

// TokenValidatorConfig describes how gateway-issued HS256 tokens are checked.
type TokenValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenValidator validates the HS256 JWT carrying the pre-verified clinic
// claim set. It does not talk to the upstream identity provider; that
// verification happened before the token was minted.
type TokenValidator struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenValidator constructs a validator with the provided configuration.
func NewTokenValidator(cfg TokenValidatorConfig) (*TokenValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// ValidateToken parses and validates the supplied JWT string and returns the
// embedded clinic claims.
func (v *TokenValidator) ValidateToken(tokenString string) (ClinicClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return ClinicClaims{}, ErrMissingToken
	}

	claims := &ClinicClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ClinicClaims{}, ErrExpiredToken
		}
		return ClinicClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return ClinicClaims{}, ErrInvalidToken
	}
	return *claims, nil
}

// IssueToken mints a signed token carrying the clinic claim set. Local
// deployments and tests mint their own gateway tokens with this helper.
func (v *TokenValidator) IssueToken(principal Principal) (string, error) {
	if principal.UserID == "" {
		return "", ErrMissingUserID
	}

	now := v.clock().UTC()
	claims := ClinicClaims{
		Email:    principal.Email,
		ClinicID: principal.ClinicID,
		Role:     string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.signingSecret)
}
