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

// Package config holds the tunables the filesystem core needs at mount
// time: buffer cache sizing, log geometry, inode table capacity, and
// logging setup.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// LoggingConfig holds the logging knobs exposed at mount time.
type LoggingConfig struct {
	Severity  string `mapstructure:"severity"`
	FilePath  string `mapstructure:"file-path"`
	Format    string `mapstructure:"format"`
	LogRotate LogRotateConfig `mapstructure:"log-rotate"`
}

type LogRotateConfig struct {
	MaxFileSizeMB  int  `mapstructure:"max-file-size-mb"`
	BackupFileCount int `mapstructure:"backup-file-count"`
	Compress        bool `mapstructure:"compress"`
}

// Config is the top-level configuration for a mounted filesystem.
type Config struct {
	// BufferPoolSize is the fixed number of buffers the block buffer
	// cache holds resident at once.
	BufferPoolSize int `mapstructure:"buffer-pool-size"`

	// ShardCount is the number of LRU shards the buffer pool is
	// partitioned into, by block_id mod ShardCount.
	ShardCount int `mapstructure:"shard-count"`

	// LogBodyBlocks is LOG_BODY_LEN: the number of blocks the log body
	// can hold, excluding the header block.
	LogBodyBlocks int `mapstructure:"log-body-blocks"`

	// MaxOpBlocks is MAX_OP: the worst-case number of distinct blocks a
	// single filesystem operation may touch.
	MaxOpBlocks int `mapstructure:"max-op-blocks"`

	// MaxInodeTableSize bounds the in-memory inode handle table.
	MaxInodeTableSize int `mapstructure:"max-inode-table-size"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// Decode turns a generic map (as parsed from YAML/JSON/flags) into a
// Config, the same decode-then-validate shape cfg.Config uses.
func Decode(raw map[string]any) (Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("building config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		BufferPoolSize:    64,
		ShardCount:        8,
		LogBodyBlocks:     30,
		MaxOpBlocks:       10,
		MaxInodeTableSize: 64,
		Logging: LoggingConfig{
			Severity: "INFO",
			Format:   "text",
			LogRotate: LogRotateConfig{
				MaxFileSizeMB:   512,
				BackupFileCount: 10,
				Compress:        true,
			},
		},
	}
}

// Validate rejects configurations that would violate the log's admission
// control invariant: the log body must be able to admit at least one
// operation's worth of distinct blocks.
func (c Config) Validate() error {
	if c.BufferPoolSize <= 0 {
		return fmt.Errorf("buffer-pool-size must be positive, got %d", c.BufferPoolSize)
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("shard-count must be positive, got %d", c.ShardCount)
	}
	if c.ShardCount > c.BufferPoolSize {
		return fmt.Errorf("shard-count (%d) must not exceed buffer-pool-size (%d)", c.ShardCount, c.BufferPoolSize)
	}
	if c.MaxOpBlocks <= 0 {
		return fmt.Errorf("max-op-blocks must be positive, got %d", c.MaxOpBlocks)
	}
	if c.LogBodyBlocks < c.MaxOpBlocks {
		return fmt.Errorf("log-body-blocks (%d) must be at least max-op-blocks (%d)", c.LogBodyBlocks, c.MaxOpBlocks)
	}
	if c.MaxInodeTableSize <= 0 {
		return fmt.Errorf("max-inode-table-size must be positive, got %d", c.MaxInodeTableSize)
	}
	if err := isValidLogRotateConfig(&c.Logging.LogRotate); err != nil {
		return err
	}
	return nil
}
