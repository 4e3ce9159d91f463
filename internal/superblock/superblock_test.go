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

package superblock

import (
	"testing"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBmapStart = 10
	testNBlocks   = 256
)

func testSuperblock() Superblock {
	return Superblock{
		Magic:      Magic,
		Size:       testNBlocks,
		NBlocks:    testNBlocks - testBmapStart - 1,
		NInodes:    32,
		NLog:       6,
		LogStart:   2,
		InodeStart: 8,
		BmapStart:  testBmapStart,
	}
}

func newTestEnv(t *testing.T) (*bufcache.Cache, *wal.Log, *blockdev.MemDevice) {
	t.Helper()
	dev := blockdev.NewMemDevice(testNBlocks)
	cache, err := bufcache.New(dev, 16, 4)
	require.NoError(t, err)
	log := wal.New(cache, 2, 5, 5)
	return cache, log, dev
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	sb := testSuperblock()
	got := Unmarshal(sb.Marshal())
	assert.Equal(t, sb, got)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	dev := blockdev.NewMemDevice(testNBlocks)
	cache, err := bufcache.New(dev, 16, 4)
	require.NoError(t, err)

	bad := testSuperblock()
	bad.Magic = 0xDEADBEEF
	raw := bad.Marshal()
	require.NoError(t, dev.WriteBlock(BlockIndex, append(raw, make([]byte, blockdev.BlockSize-len(raw))...)))

	assert.Panics(t, func() {
		_, _ = Load(cache)
	})
}

func TestLoadRoundTripsThroughCache(t *testing.T) {
	cache, _, dev := newTestEnv(t)
	sb := testSuperblock()
	raw := sb.Marshal()
	require.NoError(t, dev.WriteBlock(BlockIndex, append(raw, make([]byte, blockdev.BlockSize-len(raw))...)))

	got, err := Load(cache)
	require.NoError(t, err)
	assert.Equal(t, sb, got)
}

func TestBallocFindsFirstClearBitAndZeroesBlock(t *testing.T) {
	cache, log, dev := newTestEnv(t)
	sb := testSuperblock()

	// Poison the target block so the zero-after-alloc behavior is visible.
	poison := make([]byte, blockdev.BlockSize)
	for i := range poison {
		poison[i] = 0xFF
	}
	require.NoError(t, dev.WriteBlock(0, poison))

	log.BeginOp()
	b, ok, err := Balloc(cache, log, sb)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0), b, "first allocation must return the lowest-numbered block")
	log.EndOp()

	out := make([]byte, blockdev.BlockSize)
	require.NoError(t, dev.ReadBlock(b, out))
	assert.Equal(t, make([]byte, blockdev.BlockSize), out, "allocated block must read back as zero")

	bmap := make([]byte, blockdev.BlockSize)
	require.NoError(t, dev.ReadBlock(sb.BmapStart, bmap))
	assert.True(t, testBit(bmap, 0))
}

func TestBallocSkipsPreallocatedBits(t *testing.T) {
	cache, log, dev := newTestEnv(t)
	sb := testSuperblock()

	bmap := make([]byte, blockdev.BlockSize)
	setBit(bmap, 0)
	setBit(bmap, 1)
	require.NoError(t, dev.WriteBlock(sb.BmapStart, bmap))

	log.BeginOp()
	b, ok, err := Balloc(cache, log, sb)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), b)
	log.EndOp()
}

func TestBallocAndBfreeRoundTrip(t *testing.T) {
	cache, log, _ := newTestEnv(t)
	sb := testSuperblock()

	log.BeginOp()
	b, ok, err := Balloc(cache, log, sb)
	require.NoError(t, err)
	require.True(t, ok)
	log.EndOp()

	log.BeginOp()
	require.NoError(t, Bfree(cache, log, sb, b))
	log.EndOp()

	log.BeginOp()
	b2, ok, err := Balloc(cache, log, sb)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, b2, "freed block must be reused by the next allocation")
	log.EndOp()
}

func TestBfreeOfAlreadyFreeBlockPanics(t *testing.T) {
	cache, log, _ := newTestEnv(t)
	sb := testSuperblock()

	log.BeginOp()
	defer log.EndOp()
	assert.Panics(t, func() {
		_ = Bfree(cache, log, sb, 0)
	})
}

func TestBallocReturnsFalseWhenImageFull(t *testing.T) {
	cache, log, dev := newTestEnv(t)
	sb := testSuperblock()
	sb.Size = 8 // tiny image: all bits in one bitmap block, all set

	full := make([]byte, blockdev.BlockSize)
	for i := 0; i < int(sb.Size); i++ {
		setBit(full, uint32(i))
	}
	require.NoError(t, dev.WriteBlock(sb.BmapStart, full))

	log.BeginOp()
	defer log.EndOp()
	_, ok, err := Balloc(cache, log, sb)
	require.NoError(t, err)
	assert.False(t, ok)
}
