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
	"fmt"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"golang.org/x/sync/semaphore"
)

// Cache is the public, sharded block buffer cache. It implements
// Get/ReadAs/WriteAs/Sync over a configurable number of shards.
type Cache struct {
	dev    blockdev.Device
	shards []*shard
}

// New creates a Cache with poolSize resident buffers, partitioned into
// shardCount shards. poolSize must be >= shardCount.
func New(dev blockdev.Device, poolSize, shardCount int) (*Cache, error) {
	if shardCount <= 0 || poolSize <= 0 {
		return nil, fmt.Errorf("bufcache: poolSize and shardCount must be positive")
	}
	if poolSize < shardCount {
		return nil, fmt.Errorf("bufcache: poolSize (%d) must be >= shardCount (%d)", poolSize, shardCount)
	}

	// One in-flight device read per shard is enough to keep every shard
	// making progress on a miss storm without letting an unbounded number
	// of goroutines hammer the device concurrently.
	ioTokens := semaphore.NewWeighted(int64(shardCount))

	c := &Cache{dev: dev, shards: make([]*shard, shardCount)}
	base := poolSize / shardCount
	extra := poolSize % shardCount
	for i := 0; i < shardCount; i++ {
		size := base
		if i < extra {
			size++
		}
		c.shards[i] = newShard(uint32(i), dev, size, ioTokens)
	}
	return c, nil
}

func (c *Cache) shardFor(blockID uint32) *shard {
	return c.shards[int(blockID)%len(c.shards)]
}

// Get returns a handle pinning blockID's buffer, loading it from the
// device on a miss. The caller must Release the handle when done.
func (c *Cache) Get(blockID uint32) (Handle, error) {
	return c.shardFor(blockID).get(blockID)
}

// Release unpins a handle returned by Get. It does not flush the buffer;
// writeback happens only via commit (Sync) or defensively on eviction of
// a dirty buffer.
func (c *Cache) Release(h Handle) {
	c.shards[h.shardID].release(h.index, h.generation)
}

// ReadAs runs fn with the handle's raw block bytes starting at offset,
// holding the buffer's reader lock for fn's duration. Callers pass a
// decode function that reads (but does not mutate) the byte range.
func (c *Cache) ReadAs(h Handle, offset, length int, fn func(b []byte)) error {
	s := c.shards[h.shardID]
	b := &s.bufs[h.index]
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		return fmt.Errorf("bufcache: ReadAs range [%d,%d) out of bounds for %d-byte block", offset, offset+length, len(b.data))
	}
	b.rw.RLock()
	defer b.rw.RUnlock()
	fn(b.data[offset : offset+length])
	return nil
}

// WriteAs runs fn against the handle's raw block bytes starting at
// offset, holding the buffer's writer lock for fn's duration, and marks
// the buffer dirty. Callers outside the log layer must not rely on this
// causing an implicit writeback — durability comes only from the log
// manager's commit.
func (c *Cache) WriteAs(h Handle, offset, length int, fn func(b []byte)) error {
	s := c.shards[h.shardID]
	b := &s.bufs[h.index]
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		return fmt.Errorf("bufcache: WriteAs range [%d,%d) out of bounds for %d-byte block", offset, offset+length, len(b.data))
	}
	b.rw.Lock()
	defer b.rw.Unlock()
	fn(b.data[offset : offset+length])
	s.mu.Lock()
	b.dirty = true
	s.mu.Unlock()
	return nil
}

// Sync forces a write-back of the handle's buffer if dirty, used by the
// log manager during commit rather than by ordinary callers.
func (c *Cache) Sync(h Handle) error {
	return c.shards[h.shardID].sync(h.index, h.generation)
}

// BlockID returns the block index a handle is currently pinning.
func (c *Cache) BlockID(h Handle) uint32 {
	s := c.shards[h.shardID]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufs[h.index].blockID
}

// PoolSize returns the total number of resident buffer slots across all
// shards.
func (c *Cache) PoolSize() int {
	total := 0
	for _, s := range c.shards {
		total += len(s.bufs) - 1 // exclude the per-shard sentinel
	}
	return total
}
