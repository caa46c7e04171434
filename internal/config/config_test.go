package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, v)
	require.NoError(t, fs.Parse(nil))

	cfg := Load(v)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, "*", cfg.AllowedOrigins)
	require.Equal(t, "", cfg.AuthToken)
	require.Equal(t, time.Minute, cfg.PhaseRefresh)
	require.Equal(t, 200, cfg.QualityBudgetMS)
	require.False(t, cfg.AntiBotGeoStrict)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesFromFlags(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, v)
	require.NoError(t, fs.Parse([]string{
		"--database-url=postgres://localhost/finova",
		"--http-port=9090",
		"--auth-token=secret",
	}))

	cfg := Load(v)
	require.Equal(t, "postgres://localhost/finova", cfg.DatabaseURL)
	require.Equal(t, "9090", cfg.HTTPPort)
	require.Equal(t, "secret", cfg.AuthToken)
}
