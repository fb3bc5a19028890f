package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when the Authorization header carries no bearer token.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken is returned when the token fails signature or expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// ErrWeakSecret is returned by NewVerifier for secrets shorter than MinSecretLength.
var ErrWeakSecret = errors.New("jwt secret must be at least 32 characters")

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// Verifier checks HS256 bearer tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for the given secret.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify validates the token string and returns the credential it asserts.
func (v *Verifier) Verify(token string) (Credential, error) {
	if token == "" {
		return Credential{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return credentialFromClaims(token, claims)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Sign issues an HS256 token for the given claims. Used by tests and local tooling;
// production tokens come from the identity service.
func Sign(secret string, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
