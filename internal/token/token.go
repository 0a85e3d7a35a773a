// Package token owns the access/refresh token pair: it hands out valid access
// tokens, refreshes them at most once concurrently and mirrors them into
// session and durable storage.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// StorageKey is the key the token pair is persisted under in every store.
const StorageKey = "auth_tokens"

var (
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrTokensCleared  = errors.New("tokens were cleared during refresh")
	ErrNoExpiry       = errors.New("token grant has no expiry")
)

// Pair is the token pair held for the authenticated session. ExpiresAt is
// the access token expiry in epoch milliseconds.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Expired reports whether the access token has expired at now.
func (p Pair) Expired(now time.Time) bool {
	return now.UnixMilli() >= p.ExpiresAt
}

func (p Pair) Expiry() time.Time {
	return time.UnixMilli(p.ExpiresAt)
}

// Grant is the token body returned by the login and refresh endpoints.
// ExpiresIn is in seconds; zero means the server did not say.
type Grant struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// PairFromGrant converts a grant into a pair. The previous refresh token is
// kept when the grant omits one. Without expiresIn the exp claim of a JWT
// access token is used.
func PairFromGrant(g Grant, previousRefresh string, now time.Time) (Pair, error) {
	if g.AccessToken == "" {
		return Pair{}, errors.New("token grant has no access token")
	}

	p := Pair{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
	}
	if p.RefreshToken == "" {
		p.RefreshToken = previousRefresh
	}

	if g.ExpiresIn > 0 {
		p.ExpiresAt = now.UnixMilli() + g.ExpiresIn*1000
		return p, nil
	}

	exp, err := jwtExpiry(g.AccessToken)
	if err != nil {
		return Pair{}, err
	}
	p.ExpiresAt = exp.UnixMilli()

	return p, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// is only ever sent back to the server that issued it.
func jwtExpiry(accessToken string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(accessToken, claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: access token is not a JWT: %v", ErrNoExpiry, err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: access token has no exp claim", ErrNoExpiry)
	}

	return claims.ExpiresAt.Time, nil
}
