package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Issuer     string        `env:"CHARTFOLD_SESSION_ISSUER"      envDefault:"chartfold"`
	Audience   string        `env:"CHARTFOLD_SESSION_AUDIENCE"    envDefault:"chartfold-web"`
	SigningKey string        `env:"CHARTFOLD_SESSION_SIGNING_KEY"`
	TTL        time.Duration `env:"CHARTFOLD_SESSION_TTL"         envDefault:"12h"`
}

// Config defines how session tokens are issued.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
}

// LoadConfigFromEnv reads session configuration.
//
// CHARTFOLD_SESSION_SIGNING_KEY is a base64-encoded Ed25519 seed or private
// key. When absent an ephemeral key is generated, which means tokens do not
// survive a restart; deployments share a key across instances.
func LoadConfigFromEnv() (Config, error) {
	var raw sessionEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session env: %w", err)
	}

	cfg := Config{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		TTL:      raw.TTL,
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}

	encodedKey := strings.TrimSpace(raw.SigningKey)
	if encodedKey == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return Config{}, fmt.Errorf("generate session signing key: %w", err)
		}
		cfg.Key = key
		return cfg, nil
	}

	keyBytes, err := decodeBase64(encodedKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode session signing key: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.SeedSize:
		cfg.Key = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		cfg.Key = ed25519.PrivateKey(keyBytes)
	default:
		return Config{}, fmt.Errorf("session signing key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return cfg, nil
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}
