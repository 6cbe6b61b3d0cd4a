package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "go-chat-app"

var ErrNoSubject = errors.New("auth: token carries no user id")

// Claims is the JWT body issued by the relay and read by clients.
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is who a realtime session acts as. The zero value means "nobody":
// sessions holding it stay closed.
type Identity struct {
	UserID int64
	Token  string
}

func (i Identity) Empty() bool { return i.UserID == 0 }

// Issue signs a token for the given user, valid for ttl.
func Issue(secret string, userID int64, username string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// Validate checks signature and expiry and returns the embedded user.
func Validate(secret, tokenString string) (int64, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", jwt.ErrTokenInvalidClaims
	}
	if claims.ID == 0 {
		return 0, "", ErrNoSubject
	}
	return claims.ID, claims.Username, nil
}

// ParseIdentity reads the user id out of a token without verifying it. The
// client cannot check the signature; the relay does that on every request.
func ParseIdentity(tokenString string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if claims.ID == 0 {
		return Identity{}, ErrNoSubject
	}
	return Identity{UserID: claims.ID, Token: tokenString}, nil
}
