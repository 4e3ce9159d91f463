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

// Package fsctx composes the block device, buffer cache, log manager,
// superblock and inode table into a single Filesystem value created
// once at mount time and passed by pointer into every operation. Apart
// from internal/logger's package-level default logger, there are no
// package-level singletons in this tree: every
// subsystem below fsctx takes its collaborators as constructor
// arguments, and fsctx is the one place that wires them together and
// owns the result.
package fsctx

import (
	"fmt"
	"io"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/config"
	"github.com/blockfs-go/blockfs/internal/dirfs"
	"github.com/blockfs-go/blockfs/internal/inode"
	"github.com/blockfs-go/blockfs/internal/logger"
	"github.com/blockfs-go/blockfs/internal/superblock"
	"github.com/blockfs-go/blockfs/internal/wal"
)

// Filesystem is the mounted, ready-to-use handle onto one block device.
type Filesystem struct {
	Dev        blockdev.Device
	Cache      *bufcache.Cache
	Log        *wal.Log
	Superblock superblock.Superblock
	Table      *inode.Table
	Dir        *dirfs.Dir

	cfg config.Config
}

// Mount loads the superblock from dev, runs log recovery, and wires up
// every subsystem of a usable Filesystem. dev must already hold an
// image laid out by internal/mkfs.
func Mount(dev blockdev.Device, cfg config.Config) (*Filesystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fsctx: mount: %w", err)
	}

	cache, err := bufcache.New(dev, cfg.BufferPoolSize, cfg.ShardCount)
	if err != nil {
		return nil, fmt.Errorf("fsctx: mount: %w", err)
	}

	sb, err := superblock.Load(cache)
	if err != nil {
		return nil, fmt.Errorf("fsctx: mount: %w", err)
	}

	log := wal.New(cache, sb.LogStart, cfg.LogBodyBlocks, cfg.MaxOpBlocks)
	logger.Infof("fsctx: mount: recovering log at block %d", sb.LogStart)
	if err := log.Recover(); err != nil {
		return nil, fmt.Errorf("fsctx: mount: recovering log: %w", err)
	}

	table := inode.New(cache, sb, cfg.MaxInodeTableSize)
	dir := &dirfs.Dir{Table: table, Log: log}

	logger.Infof("fsctx: mount: ready, %d blocks, %d inodes", sb.Size, sb.NInodes)
	return &Filesystem{
		Dev:        dev,
		Cache:      cache,
		Log:        log,
		Superblock: sb,
		Table:      table,
		Dir:        dir,
		cfg:        cfg,
	}, nil
}

// Close releases the underlying device, if it supports io.Closer. It
// does not flush anything: the last outstanding operation's EndOp
// commits every transaction of its group, so once no operation is
// outstanding there is nothing left to synchronize at unmount.
func (fs *Filesystem) Close() error {
	if c, ok := fs.Dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
