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

package bufcache

import (
	"sync"
	"testing"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, poolSize, shards int, nblks uint32) (*Cache, *blockdev.MemDevice) {
	t.Helper()
	dev := blockdev.NewMemDevice(nblks)
	c, err := New(dev, poolSize, shards)
	require.NoError(t, err)
	return c, dev
}

func TestGetLoadsFromDeviceOnMiss(t *testing.T) {
	c, dev := newTestCache(t, 4, 2, 8)
	raw := make([]byte, blockdev.BlockSize)
	raw[0] = 0x42
	require.NoError(t, dev.WriteBlock(3, raw))

	h, err := c.Get(3)
	require.NoError(t, err)
	defer c.Release(h)

	var got byte
	require.NoError(t, c.ReadAs(h, 0, 1, func(b []byte) { got = b[0] }))
	assert.Equal(t, byte(0x42), got)
}

func TestWriteAsMarksDirtyAndSyncFlushes(t *testing.T) {
	c, dev := newTestCache(t, 4, 2, 8)
	h, err := c.Get(1)
	require.NoError(t, err)

	require.NoError(t, c.WriteAs(h, 0, 4, func(b []byte) {
		copy(b, []byte{1, 2, 3, 4})
	}))
	require.NoError(t, c.Sync(h))
	c.Release(h)

	out := make([]byte, blockdev.BlockSize)
	require.NoError(t, dev.ReadBlock(1, out))
	assert.Equal(t, []byte{1, 2, 3, 4}, out[:4])
}

func TestPoolNeverExceedsConfiguredSize(t *testing.T) {
	c, _ := newTestCache(t, 4, 2, 100)
	assert.Equal(t, 4, c.PoolSize())

	for i := uint32(0); i < 20; i++ {
		h, err := c.Get(i)
		require.NoError(t, err)
		c.Release(h)
	}
	assert.Equal(t, 4, c.PoolSize())
}

func TestSameHandleReturnedForConcurrentGetOfSameBlock(t *testing.T) {
	c, _ := newTestCache(t, 4, 2, 100)
	h1, err := c.Get(5)
	require.NoError(t, err)
	h2, err := c.Get(5)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	c.Release(h1)
	c.Release(h2)
}

func TestEvictionWaitsForPinnedBufferToBeReleased(t *testing.T) {
	// One shard, pool size 1: the second distinct block can only be
	// loaded once the first handle is released.
	c, _ := newTestCache(t, 1, 1, 100)
	h1, err := c.Get(1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h2, err := c.Get(2)
		require.NoError(t, err)
		c.Release(h2)
	}()

	c.Release(h1)
	wg.Wait()
}

func TestDirtyBufferFlushedOnEviction(t *testing.T) {
	c, dev := newTestCache(t, 1, 1, 100)
	h1, err := c.Get(1)
	require.NoError(t, err)
	require.NoError(t, c.WriteAs(h1, 0, 1, func(b []byte) { b[0] = 9 }))
	c.Release(h1) // dirty, but not synced

	h2, err := c.Get(2) // forces eviction of block 1's buffer
	require.NoError(t, err)
	c.Release(h2)

	out := make([]byte, blockdev.BlockSize)
	require.NoError(t, dev.ReadBlock(1, out))
	assert.Equal(t, byte(9), out[0], "dirty buffer must be flushed before its slot is reused")
}
