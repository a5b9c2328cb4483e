package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskr/internal/model"
)

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// TokenStore keeps the identity inside an HS256-signed JWT, so nothing is
// stored server side. Clear is a no-op; the caller drops the cookie.
type TokenStore struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenStore(secret string, ttl time.Duration) *TokenStore {
	return &TokenStore{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TokenStore) Establish(_ context.Context, id Identity) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(id.UserID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Name: id.Name,
		Role: string(id.Role),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Lookup(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoSession
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrNoSession
	}
	uid, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || uid == 0 {
		return Identity{}, ErrNoSession
	}
	role := model.Role(c.Role)
	if role == "" {
		role = model.RoleUser
	}
	return Identity{UserID: uint(uid), Name: c.Name, Role: role}, nil
}

func (s *TokenStore) Clear(context.Context, string) error {
	return nil
}
