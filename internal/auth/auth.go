// Package auth models the auth provider that hands the messenger its
// sessions. Tokens are HS256 JWTs whose subject is the user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("token expired")

// Session is an authenticated user session. Token changes on every login;
// UserID is stable.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Claims is the JWT payload: registered claims plus the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// Provider issues and verifies session tokens.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProvider(secret []byte, ttl time.Duration) *Provider {
	return &Provider{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a fresh token for userID.
func (p *Provider) Issue(userID string) (*Session, error) {
	if err := common.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	now := p.now()
	exp := now.Add(p.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID: userID,
	})

	signed, err := token.SignedString(p.secret)
	if err != nil {
		return nil, err
	}

	return &Session{UserID: userID, Token: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Parse verifies tokenString and returns the session it represents.
// Expired tokens yield ErrTokenExpired; anything else invalid yields
// common.ErrInvalidToken.
func (p *Provider) Parse(tokenString string) (*Session, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}
	if err := common.ValidateUserID(claims.UserID); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	s := &Session{UserID: claims.UserID, Token: tokenString}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
