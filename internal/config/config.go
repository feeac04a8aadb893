// Package config loads runtime settings from environment variables
// prefixed "SSIDB_"; no command-line flag overrides them. Grounded
// on the teacher's pkg/config/config.go: an optional .env file plus a
// manual environment-variable sweep fed into viper, then unmarshalled
// into a typed struct — kept here verbatim in spirit since the pattern
// generalizes directly, only the prefix and target shape change.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the full set of environment-configurable knobs this system
// reads at startup, per SPEC_FULL.md §4.6.
type Settings struct {
	LogLevel  string `mapstructure:"log.level"`
	LogJSON   bool   `mapstructure:"log.json"`
	SiteCount int    `mapstructure:"topology.sites"`
	VarCount  int    `mapstructure:"topology.vars"`
}

// Defaults returns the settings a bare environment yields.
func Defaults() Settings {
	return Settings{
		LogLevel:  "error",
		LogJSON:   false,
		SiteCount: 10,
		VarCount:  20,
	}
}

// Load populates target (normally a *Settings) from an optional .env file
// and from environment variables prefixed "SSIDB_" (e.g. SSIDB_LOG_LEVEL
// -> log.level).
func Load(target interface{}) error {
	// A non-dot key delimiter keeps "log.level" a flat key, so it matches
	// the dotted mapstructure tags on Settings instead of being nested.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))

	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A malformed .env is non-fatal here: Unmarshal below still
			// runs against whatever environment variables were set directly.
		}
	}

	const prefix = "SSIDB_"
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefix)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	return nil
}
