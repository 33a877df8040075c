// Package config содержит логику чтения конфигурации офферволл-сервиса.
package config

import (
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
)

// VerificationMode определяет режим проверки подписей входящих постбэков.
type VerificationMode string

const (
	// VerificationEnforced требует валидную подпись для каждого постбэка.
	VerificationEnforced VerificationMode = "enforced"
	// VerificationDisabled отключает проверку подписей (только для разработки).
	VerificationDisabled VerificationMode = "disabled"
)

// Config содержит параметры конфигурации офферволл-сервиса.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	AuthSecret       string `env:"AUTH_SECRET"`
	VerificationMode string `env:"VERIFICATION_MODE"`
	OfferFeedAddress string `env:"OFFER_FEED_ADDRESS"`
	PayoutFeePercent int    `env:"PAYOUT_FEE_PERCENT" envDefault:"2"`

	AyetSecret         string `env:"AYET_SECRET"`
	BitlabsSecret      string `env:"BITLABS_SECRET"`
	CPXSecret          string `env:"CPX_SECRET"`
	TheoremReachSecret string `env:"THEOREMREACH_SECRET"`
	CPALeadSecret      string `env:"CPALEAD_SECRET"`
	PostbackSecret     string `env:"POSTBACK_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envVerificationMode := cfg.VerificationMode
	envOfferFeedAddress := cfg.OfferFeedAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.VerificationMode, "m", string(VerificationEnforced), "postback signature verification mode (enforced|disabled)")
	flag.StringVar(&cfg.OfferFeedAddress, "r", "", "partner offer feed address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envVerificationMode != "" {
		cfg.VerificationMode = envVerificationMode
	}
	if envOfferFeedAddress != "" {
		cfg.OfferFeedAddress = envOfferFeedAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch VerificationMode(c.VerificationMode) {
	case VerificationEnforced:
		var missing []string
		for code, secret := range c.PartnerSecrets() {
			if secret == "" {
				missing = append(missing, code)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("verification mode is enforced but secrets are missing for: %s", strings.Join(missing, ", "))
		}
	case VerificationDisabled:
	default:
		return fmt.Errorf("unknown verification mode %q", c.VerificationMode)
	}

	return nil
}

// VerificationEnabled сообщает, включена ли проверка подписей постбэков.
func (c *Config) VerificationEnabled() bool {
	return VerificationMode(c.VerificationMode) == VerificationEnforced
}

// PartnerSecrets возвращает секреты всех партнёрских интеграций по их кодам.
func (c *Config) PartnerSecrets() map[string]string {
	return map[string]string{
		"ayet":         c.AyetSecret,
		"bitlabs":      c.BitlabsSecret,
		"cpx":          c.CPXSecret,
		"theoremreach": c.TheoremReachSecret,
		"cpalead":      c.CPALeadSecret,
		"generic":      c.PostbackSecret,
	}
}
