package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenVersion tags the claim layout of session tokens.
	TokenVersion = "auth@1.0.0"
	// TokenIssuer is used both as issuer and audience.
	TokenIssuer = "stexcore-hub"
)

// Claims is the payload of a session token.
type Claims struct {
	Version   string `json:"version"`
	AccountID int64  `json:"account_id"`
	SessionID int64  `json:"session_id"`
	TokenUUID string `json:"token_uuid"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 session tokens.
type TokenCodec struct {
	key []byte
	now func() time.Time
}

// NewTokenCodec builds a codec for key. An empty key is accepted.
func NewTokenCodec(key string, now func() time.Time) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{key: []byte(key), now: now}
}

// Sign issues a token for the session that expires at expiresAt.
func (c *TokenCodec) Sign(accountID, sessionID int64, tokenUUID string, expiresAt time.Time) (string, error) {
	claims := Claims{
		Version:   TokenVersion,
		AccountID: accountID,
		SessionID: sessionID,
		TokenUUID: tokenUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenIssuer},
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry. Every
// failure is reported as ErrInvalidCredentials.
func (c *TokenCodec) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidCredentials
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if claims.Version != TokenVersion {
		return fmt.Errorf("unexpected token version %q", claims.Version)
	}
	if claims.AccountID <= 0 || claims.SessionID <= 0 {
		return errors.New("session identifiers missing")
	}
	if strings.TrimSpace(claims.TokenUUID) == "" {
		return errors.New("token uuid missing")
	}
	return nil
}
