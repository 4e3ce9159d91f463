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

package mkfs

import (
	"path/filepath"
	"testing"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/inode"
	"github.com/blockfs-go/blockfs/internal/superblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProducesLoadableSuperblock(t *testing.T) {
	dev := blockdev.NewMemDevice(1024)
	opts := Options{NBlocks: 1024, NInodes: 64, NLog: 10}
	require.NoError(t, Write(dev, opts))

	cache, err := bufcache.New(dev, 32, 4)
	require.NoError(t, err)
	sb, err := superblock.Load(cache)
	require.NoError(t, err)

	assert.Equal(t, uint32(superblock.Magic), sb.Magic)
	assert.Equal(t, opts.NInodes, sb.NInodes)
	assert.Equal(t, opts.NLog, sb.NLog)
}

func TestWriteLaysOutRootDirectoryWithDotEntries(t *testing.T) {
	dev := blockdev.NewMemDevice(1024)
	opts := Options{NBlocks: 1024, NInodes: 64, NLog: 10}
	require.NoError(t, Write(dev, opts))

	cache, err := bufcache.New(dev, 32, 4)
	require.NoError(t, err)
	sb, err := superblock.Load(cache)
	require.NoError(t, err)

	table := inode.New(cache, sb, 8)
	root, err := table.Get(inode.RootIno)
	require.NoError(t, err)

	dn, err := table.ReadDiskInode(root)
	require.NoError(t, err)
	assert.Equal(t, inode.FTypeDir, dn.FType)
	assert.Equal(t, uint16(1), dn.NLink)
	assert.Equal(t, uint32(64), dn.Size) // two 32-byte entries
}

func TestWriteFileMaterializesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.blockfs")
	opts := DefaultOptions(512)
	require.NoError(t, WriteFile(path, opts))

	dev, err := blockdev.OpenFileDevice(path, opts.NBlocks)
	require.NoError(t, err)
	defer dev.Close()

	cache, err := bufcache.New(dev, 32, 4)
	require.NoError(t, err)
	sb, err := superblock.Load(cache)
	require.NoError(t, err)
	assert.Equal(t, uint32(superblock.Magic), sb.Magic)
}
