package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meridianhealthlab/chartnotes/internal/access"
)

var (
	// ErrMissingUserID indicates the claim bundle carried no subject.
	ErrMissingUserID = errors.New("auth: user id claim required")
	// ErrMissingClinicID indicates the claim bundle carried no clinic scope.
	ErrMissingClinicID = errors.New("auth: clinic id claim required")
	// ErrMissingRole indicates the claim bundle carried no role.
	ErrMissingRole = errors.New("auth: role claim required")
)

// ClinicClaims mirrors the JWT payload issued by the identity gateway after
// it has verified the upstream identity token.
type ClinicClaims struct {
	Email    string `json:"email"`
	ClinicID string `json:"clinic_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the typed identity every repository call is parameterized by.
// ClinicID is the tenant-isolation boundary: it is never read from a request
// path or body, only from the validated claim set.
type Principal struct {
	UserID   string
	Email    string
	ClinicID string
	Role     access.Role
}

// NewPrincipal converts a pre-authenticated claim bundle into a Principal.
// It fails closed: a blank subject, clinic id, or role is rejected. Email is
// optional.
func NewPrincipal(claims ClinicClaims) (Principal, error) {
	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Principal{}, ErrMissingUserID
	}
	clinicID := strings.TrimSpace(claims.ClinicID)
	if clinicID == "" {
		return Principal{}, ErrMissingClinicID
	}
	role := strings.TrimSpace(claims.Role)
	if role == "" {
		return Principal{}, ErrMissingRole
	}
	return Principal{
		UserID:   userID,
		Email:    strings.TrimSpace(claims.Email),
		ClinicID: clinicID,
		Role:     access.Role(role),
	}, nil
}
