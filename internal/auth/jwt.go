package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for a token that fails verification.
var ErrInvalidToken = errors.New("invalid id token")

// IDClaims are the claims of an identity token issued by the auth backend.
type IDClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 identity tokens from the auth backend.
type TokenVerifier struct {
	secret []byte
	issuer string
	clock  quartz.Clock
}

func NewTokenVerifier(secret, issuer string, clock quartz.Clock) *TokenVerifier {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: issuer,
		clock:  clock,
	}
}

// Issue signs an identity token. The auth backend does this in production;
// the CLI and tests use it to mint local sessions.
func (v *TokenVerifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := IDClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing id token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr and checks its signature, issuer and expiry.
func (v *TokenVerifier) Verify(tokenStr string) (*IDClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &IDClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.clock.Now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*IDClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid claim", ErrInvalidToken)
	}
	return claims, nil
}
