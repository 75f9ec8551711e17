package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any credential that does not resolve
// to an actor.
var ErrInvalidToken = errors.New("invalid or expired token")

// Verifier is the identity contract the transport consumes: given a
// credential, return the actor id or reject. Issuance lives elsewhere.
type Verifier interface {
	Verify(token string) (actorID string, err error)
}

// JWTVerifier validates HS256 bearer tokens and reads the actor id from
// the sub claim.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenStr string) (string, error) {
	tkn, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := tkn.Claims.(jwt.MapClaims)
	if !ok || !tkn.Valid {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// GenerateToken issues a short-lived token for the given actor. Used by
// tests and local tooling.
func GenerateToken(secret, actorID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": actorID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
