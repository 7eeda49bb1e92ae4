package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"studymate/internal/config"
	"studymate/internal/platform/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "studymate",
	Short:        "StudyMate study assistant backend",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (defaults to $CONFIG_FILE or configs/config.toml)")
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config failed: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger failed: %w", err)
	}
	return cfg, log, nil
}
