// Package grant verifies service grants: short-lived Ed25519-signed JWTs that
// authorize trusted internal callers to mint claim tokens for a topic.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/openagora/agora/internal/platform/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer    string `env:"AGORA_GRANT_ISSUER"`
	Audience  string `env:"AGORA_GRANT_AUDIENCE"`
	PublicKey string `env:"AGORA_GRANT_PUBLIC_KEY"`
}

// Config defines how service grants are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Claims captures validated service grant claims.
type Claims struct {
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string
	TopicID   string
	Service   string
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	TopicID string `json:"topic_id"`
	Service string `json:"service"`
}

// LoadConfigFromEnv reads service grant verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse service grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("AGORA_GRANT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("AGORA_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("AGORA_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode service grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("service grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Validate verifies a service grant token and checks it was minted for the
// given topic.
func Validate(token, topicID string, cfg Config) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "service grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("service grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantInvalid,
			"service grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantInvalid,
			"service grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "service grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "service grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeGrantExpired, "service grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "service grant not active yet")
		}
	}

	if strings.TrimSpace(parsed.TopicID) == "" || parsed.TopicID != topicID {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantInvalid,
			"service grant topic mismatch",
			map[string]string{"Field": "topic_id"},
		)
	}

	claims := Claims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
		TopicID:   parsed.TopicID,
		Service:   strings.TrimSpace(parsed.Service),
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeGrantInvalid, "service grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeGrantInvalid, "service grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeGrantInvalid, "service grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
