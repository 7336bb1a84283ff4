package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for the auth service.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrJWTSecretMissing   = errors.New("auth: JWT_SECRET not configured")
)

// tokenIssuer is the iss claim of tokens issued and accepted here.
const tokenIssuer = "clean-city-dashboard"

// AuthClaims are the JWT claims embedded in dashboard access tokens.
type AuthClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AuthService validates the access tokens the dashboard sends. Accounts
// live in the dashboard backend; this service only shares its signing
// secret.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

// NewAuthService creates an AuthService. accessTTL bounds tokens issued by
// IssueAccessToken.
func NewAuthService(jwtSecret string, accessTTL time.Duration) *AuthService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *AuthService) Enabled() bool { return len(s.jwtSecret) > 0 }

// IssueAccessToken signs an HS256 access token for username with role.
func (s *AuthService) IssueAccessToken(username, role string) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", ErrJWTSecretMissing
	}

	now := time.Now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    tokenIssuer,
		},
		Username: username,
		Role:     role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign access token: %w", err)
	}
	return token, nil
}

// ValidateAccessToken parses and validates an access token, returning the claims.
func (s *AuthService) ValidateAccessToken(tokenString string) (*AuthClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrJWTSecretMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("auth: parse access token: %w", err)
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return claims, nil
}
