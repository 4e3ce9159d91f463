// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"

	"github.com/blockfs-go/blockfs/internal/config"
	"github.com/blockfs-go/blockfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "blockfsctl",
	Short: "Build and inspect block-device filesystem images",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (default: built-in tunables)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "TRACE, DEBUG, INFO, WARNING, or ERROR")
	rootCmd.PersistentFlags().String("log-format", "text", "text or json")
	_ = viper.BindPFlag("logging.severity", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		_ = viper.ReadInConfig()
	}
}

// loadConfig merges viper's bound flags and optional config file into
// an internal/config.Config, then wires up the default logger from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Decode(viper.AllSettings())
	if err != nil {
		return config.Config{}, fmt.Errorf("blockfsctl: %w", err)
	}

	level, err := parseLevel(cfg.Logging.Severity)
	if err != nil {
		return config.Config{}, err
	}
	logger.Init(logger.Config{
		Format:     logger.Format(cfg.Logging.Format),
		Level:      level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.LogRotate.MaxFileSizeMB,
		MaxBackups: cfg.Logging.LogRotate.BackupFileCount,
	})
	return cfg, nil
}

func parseLevel(severity string) (slog.Level, error) {
	switch severity {
	case "TRACE":
		return logger.LevelTrace, nil
	case "DEBUG":
		return logger.LevelDebug, nil
	case "INFO":
		return logger.LevelInfo, nil
	case "WARNING":
		return logger.LevelWarning, nil
	case "ERROR":
		return logger.LevelError, nil
	default:
		return 0, fmt.Errorf("blockfsctl: unknown log level %q", severity)
	}
}
