// Package passkey wires flag parsing for the passkey server command.
package passkey

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	server "github.com/chartfold/passkey/internal/app"
	"github.com/chartfold/passkey/internal/platform/otel"
)

// Config holds passkey command configuration.
type Config struct {
	HTTPAddr string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		HTTPAddr: envOrDefault(lookup, []string{"CHARTFOLD_HTTP_ADDR"}, "localhost:8080"),
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The passkey HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the passkey server.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "passkey")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	return server.Run(ctx, cfg.HTTPAddr)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
