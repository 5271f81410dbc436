package hub

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the decoded handshake credential attached to a session
// before it reaches the registry.
type Identity struct {
	UserID string
	Role   string
}

type claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Authenticator verifies bearer tokens presented at upgrade time. Tokens
// are issued by an external auth service sharing the same secret; the hub
// only verifies.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify checks signature and expiry and returns the embedded identity.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !parsed.Valid || c.UserID == "" {
		return nil, fmt.Errorf("verify token: invalid claims")
	}
	return &Identity{UserID: c.UserID, Role: c.Role}, nil
}

// Issue mints a signed token. Used by the dev `token` subcommand and by
// tests; production tokens come from the external issuer.
func (a *Authenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "notifyd",
		},
		UserID: userID,
		Role:   role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
