// Package config loads the engine's runtime configuration via Viper,
// bound to Cobra persistent flags with a FINOVA_ env prefix, adapted
// from the other_examples/luxfi-ai pack repo's viper.AutomaticEnv
// config-loading idiom (the teacher itself reads raw os.Getenv in
// main()). Every field has a default; an empty DatabaseURL makes
// cmd/engine run against the in-memory store instead of Postgres.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the engine's full runtime configuration.
type Config struct {
	DatabaseURL       string
	HTTPPort          string
	AllowedOrigins    string
	AuthToken         string
	PhaseRefresh      time.Duration
	QualityBudgetMS   int
	AntiBotGeoStrict  bool
	LogLevel          string
}

// BindFlags registers the engine's flags on fs (typically a Cobra
// command's Flags()) with the defaults below, then binds them into v so
// FINOVA_*-prefixed env vars and flags both resolve through one Config.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("database-url", "", "Postgres connection string (empty runs on the in-memory store)")
	fs.String("http-port", "8080", "HTTP listen port")
	fs.String("allowed-origins", "*", "comma-separated CORS allowlist, or * for all")
	fs.String("auth-token", "", "bearer token required on authenticated routes; empty disables auth (dev mode)")
	fs.Duration("phase-refresh", time.Minute, "Phase & Network Oracle cache duration")
	fs.Int("quality-budget-ms", 200, "Quality Scorer circuit-breaker budget in milliseconds")
	fs.Bool("antibot-geo-strict", false, "reject geo-inconsistent devices outright instead of scoring them down")
	fs.String("log-level", "info", "zerolog level: debug, info, warn, error")

	_ = v.BindPFlags(fs)
}

// Load reads v (already populated by BindFlags + env) into a Config.
func Load(v *viper.Viper) Config {
	v.SetEnvPrefix("FINOVA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return Config{
		DatabaseURL:      v.GetString("database-url"),
		HTTPPort:         v.GetString("http-port"),
		AllowedOrigins:   v.GetString("allowed-origins"),
		AuthToken:        v.GetString("auth-token"),
		PhaseRefresh:     v.GetDuration("phase-refresh"),
		QualityBudgetMS:  v.GetInt("quality-budget-ms"),
		AntiBotGeoStrict: v.GetBool("antibot-geo-strict"),
		LogLevel:         v.GetString("log-level"),
	}
}
