package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// envKeys are the config keys that KESTREL_* variables may set, e.g.
// KESTREL_REPOSITORY_SQLITEPATH.
var envKeys = []string{
	"tier",
	"server.host", "server.port", "server.readtimeout", "server.writetimeout",
	"repository.driver", "repository.sqlitepath",
	"repository.postgreshost", "repository.postgresport", "repository.postgresuser",
	"repository.postgrespassword", "repository.postgresdb", "repository.postgressslmode",
	"cache.type", "cache.localmaxsize", "cache.localttl",
	"cache.redisaddr", "cache.redispassword", "cache.redisdb", "cache.enabletwophase",
	"eventbus.type", "eventbus.channelbuffersize", "eventbus.natsurl", "eventbus.natstoken",
	"pipeline.apmatrixpath", "pipeline.glmatrixpath", "pipeline.settingspath",
	"pipeline.scenariospath", "pipeline.masterdatapath", "pipeline.unusualpairspath",
	"pipeline.verifyall", "pipeline.artifactroot", "pipeline.duplicateworkers",
	"pipeline.historylookback", "pipeline.ocrcachettl", "pipeline.approvalenabled",
	"pipeline.approvaltimeout", "pipeline.asyncworkers",
	"logging.level", "logging.format",
	"tracing.enabled", "tracing.servicename",
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("kestrel")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KESTREL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		_ = viper.BindEnv(k)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)
	return nil
}

// loadConfig layers the config file and environment onto the defaults of
// the selected tier.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if domain.Tier(viper.GetString("tier")) == domain.TierPro {
		cfg = domain.ProConfig()
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	return cfg, nil
}

func setupLogging(cfg domain.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
