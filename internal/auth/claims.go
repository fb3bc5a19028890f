package auth

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Role values issued by the identity service.
const (
	RoleAdmin    = "Admin"
	RoleEmployee = "Employee"
)

// ErrInvalidClaims is returned when a verified token lacks a usable subject.
var ErrInvalidClaims = errors.New("invalid token claims")

// Claims is the claim set carried by tokens from the identity service. The
// identity service writes the user name under "unique_name".
type Claims struct {
	ID   string `json:"id"`
	Name string `json:"unique_name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Credential is the caller identity handed to the sales core. Token is the raw
// bearer string forwarded to downstream services as-is.
type Credential struct {
	Token    string
	UserID   int64
	UserName string
	Role     string
}

// HasRole reports whether the credential carries one of the given roles.
func (c Credential) HasRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

func credentialFromClaims(token string, claims *Claims) (Credential, error) {
	id, err := strconv.ParseInt(claims.ID, 10, 64)
	if err != nil || id <= 0 {
		return Credential{}, ErrInvalidClaims
	}
	name := claims.Name
	if name == "" {
		name = "Unknown"
	}
	return Credential{
		Token:    token,
		UserID:   id,
		UserName: name,
		Role:     claims.Role,
	}, nil
}
