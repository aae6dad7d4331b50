// Package identity parses identification tokens minted by the external
// identification subsystem (SSO or manual sign-in). The engine only
// consumes identities; it never issues them.
package identity

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deskflow/deskflow-engine/internal/models"
)

var (
	// ErrInvalidToken is returned when a token fails verification
	ErrInvalidToken = errors.New("invalid identification token")
	// ErrVerificationDisabled is returned when no secret is configured
	ErrVerificationDisabled = errors.New("identity verification disabled")
)

// Claims carried by an identification token
type Claims struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Mobile string `json:"mobile,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates identification tokens
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret disables verification
// and every request is treated as anonymous.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse verifies a token and extracts the visitor identity
func (v *Verifier) Parse(tokenString string) (*models.Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrVerificationDisabled
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &models.Identity{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
		Mobile:  claims.Mobile,
	}, nil
}

// FromAuthHeader extracts the identity from a bearer Authorization
// header. Absent or invalid tokens degrade to anonymous (nil identity)
// rather than failing the request; identification is optional.
func (v *Verifier) FromAuthHeader(header string) *models.Identity {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil
	}

	identity, err := v.Parse(strings.TrimPrefix(header, prefix))
	if err != nil {
		return nil
	}
	return identity
}
