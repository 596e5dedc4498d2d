// Package auth turns an Authorization header into a user name.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity modes
const (
	ModeUsername = "username"
	ModeJWT      = "jwt"
)

// ErrUnauthenticated is returned for a missing, malformed or invalid credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// Config selects how bearer credentials are interpreted.
type Config struct {
	Mode      string
	JWTSecret string
}

// Authenticator extracts the caller's user name from a bearer credential.
type Authenticator struct {
	mode   string
	secret []byte
}

// New validates cfg and returns an Authenticator.
func New(cfg Config) (*Authenticator, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeUsername
	}

	switch mode {
	case ModeUsername:
	case ModeJWT:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth mode %q requires a JWT secret", ModeJWT)
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}

	return &Authenticator{mode: mode, secret: []byte(cfg.JWTSecret)}, nil
}

// Mode reports the configured mode.
func (a *Authenticator) Mode() string {
	return a.mode
}

// BearerToken returns the credential of an "Authorization: Bearer <credential>" header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: authorization header is required", ErrUnauthenticated)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: authorization header format must be Bearer {credential}", ErrUnauthenticated)
	}

	credential := strings.TrimSpace(parts[1])
	if credential == "" {
		return "", fmt.Errorf("%w: empty bearer credential", ErrUnauthenticated)
	}

	return credential, nil
}

// Username resolves the user name carried by an Authorization header.
func (a *Authenticator) Username(header string) (string, error) {
	credential, err := BearerToken(header)
	if err != nil {
		return "", err
	}

	if a.mode == ModeUsername {
		return credential, nil
	}

	return a.verify(credential)
}

func (a *Authenticator) verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return claims.Subject, nil
}

// IssueToken signs an HS256 token whose subject is username. Used by
// operators to mint credentials when the gateway runs in jwt mode.
func IssueToken(secret, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
