// Package auth issues and validates operator tokens. A token carries the
// operator id and role; the approval gate decides what each role may do.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrInvalidRole  = errors.New("token carries an unknown role")
)

const issuer = "hm9-backoffice"

// Config holds authentication configuration
type Config struct {
	JWTSecret   []byte        // Secret key for signing tokens
	TokenExpiry time.Duration // How long access tokens are valid
}

// DefaultConfig returns sensible defaults
func DefaultConfig(jwtSecret string) Config {
	return Config{
		JWTSecret:   []byte(jwtSecret),
		TokenExpiry: 8 * time.Hour,
	}
}

// Claims represents the JWT payload
type Claims struct {
	jwt.RegisteredClaims
	OperatorID uuid.UUID  `json:"operator_id"`
	Role       model.Role `json:"role"`
}

// Actor returns the operator the claims identify
func (c *Claims) Actor() model.Actor {
	return model.Actor{ID: c.OperatorID, Role: c.Role}
}

// Token is a signed access token
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service signs and validates operator tokens
type Service struct {
	config Config
	now    func() time.Time
}

// NewService creates a new auth service
func NewService(config Config) *Service {
	return &Service{config: config, now: time.Now}
}

// Issue signs a token for actor
func (s *Service) Issue(actor model.Actor) (*Token, error) {
	if !actor.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if actor.ID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	now := s.now()
	expiry := now.Add(s.config.TokenExpiry)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			Issuer:    issuer,
		},
		OperatorID: actor.ID,
		Role:       actor.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, ExpiresAt: expiry}, nil
}

// ValidateToken parses and validates a JWT token
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.config.JWTSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.OperatorID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalidRole
	}
	return claims, nil
}
