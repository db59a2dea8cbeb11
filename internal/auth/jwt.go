// Package auth - jwt.go mints and verifies the HS256 bearer tokens admins present to the
// console. The subject claim is the actor recorded in the audit ledger and the scopes claim
// drives per-route authorization.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecretEnv is the environment variable holding the signing secret
const JWTSecretEnv = "LIC_JWT_SECRET"

const issuer = "license-console"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the JWT claims structure. The actor is carried in Subject.
type Claims struct {
	Email  string   `json:"email,omitempty"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Actor returns the identity recorded for audit purposes
func (c *Claims) Actor() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.Email
}

// isDevMode is duplicated from the middleware package to avoid an import cycle
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ValidateJWTSecret checks that the signing secret is configured.
// Outside dev mode a missing LIC_JWT_SECRET is fatal; in dev mode a random secret is
// generated and tokens stop validating on restart. Call this at startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(JWTSecretEnv)

		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("LIC_JWT_SECRET not set, using an auto-generated secret for development")
			} else {
				jwtSecretErr = errors.New("SECURITY ERROR: LIC_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("LIC_JWT_SECRET is shorter than the recommended 32 characters")
		}
		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated secret, validating on first use.
// Panics if no secret can be established.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT creates a token for actor carrying scopes
func GenerateJWT(actor, email string, scopes []string, expiresIn time.Duration) (string, error) {
	if actor == "" {
		return "", errors.New("actor is required")
	}
	if err := ValidateScopes(scopes); err != nil {
		return "", err
	}
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	claims := &Claims{
		Email:  email,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   actor,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and validates a token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.Actor() == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
