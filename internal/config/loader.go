package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".codedup"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for codedup settings.
const envPrefix = "CODEDUP"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("store.path", DefaultStorePath)

	viperCfg.SetDefault("sketch.hashes", DefaultSketchHashes)
	viperCfg.SetDefault("sketch.bands", DefaultSketchBands)
	viperCfg.SetDefault("sketch.rows_per_band", DefaultSketchRows)
	viperCfg.SetDefault("sketch.seed", DefaultSketchSeed)
	viperCfg.SetDefault("sketch.workers", 0)

	viperCfg.SetDefault("query.similarity_floor", DefaultSimilarityFloor)
	viperCfg.SetDefault("query.granularity", DefaultGranularity)

	viperCfg.SetDefault("report.max_bucket_size", DefaultMaxBucketSize)
	viperCfg.SetDefault("report.post_filter", false)

	viperCfg.SetDefault("walk.include_vendored", false)

	viperCfg.SetDefault("metrics.addr", "")
}
