package ceremony

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls WebAuthn relying party settings and challenge lifetimes.
type Config struct {
	RPDisplayName     string        `env:"CHARTFOLD_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Chartfold"`
	RPID              string        `env:"CHARTFOLD_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins         []string      `env:"CHARTFOLD_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	RegistrationTTL   time.Duration `env:"CHARTFOLD_WEBAUTHN_REGISTRATION_TTL"   envDefault:"5m"`
	AuthenticationTTL time.Duration `env:"CHARTFOLD_WEBAUTHN_AUTHENTICATION_TTL" envDefault:"2m"`
}

// LoadConfigFromEnv returns ceremony configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName:     "Chartfold",
			RPID:              "localhost",
			RPOrigins:         []string{"http://localhost:8080"},
			RegistrationTTL:   5 * time.Minute,
			AuthenticationTTL: 2 * time.Minute,
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.RegistrationTTL <= 0 {
		cfg.RegistrationTTL = 5 * time.Minute
	}
	if cfg.AuthenticationTTL <= 0 {
		cfg.AuthenticationTTL = 2 * time.Minute
	}
	return cfg
}
