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
	"context"
	"fmt"
	"runtime"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/logger"
	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/semaphore"
)

// shard owns a fixed-size slice of buffers plus an intrusive LRU list
// over their indices and a block_id -> slot index map. Splitting the
// pool into shards bounds lock contention and keeps the pool
// deadlock-safe as long as no operation ever holds two shards' locks at
// once — every public Cache method below touches exactly one shard.
type shard struct {
	// mu guards everything in this struct, including each buffer's
	// dirty flag, except buffer.data, which buffer.rw protects instead.
	// Lock ordering: this is the buffer shard mutex, acquired only after
	// the log and inode-table/inode locks. flushLocked takes an unpinned
	// buffer's rw while holding mu; WriteAs and sync take mu briefly
	// while holding a pinned buffer's rw.
	mu syncutil.InvariantMutex

	id       uint32
	dev      blockdev.Device
	bufs     []buffer          // index 0 is the list sentinel, unused as data
	byBlock  map[uint32]uint32 // blockID -> slot index, excludes sentinel
	ioTokens *semaphore.Weighted
}

func newShard(id uint32, dev blockdev.Device, size int, ioTokens *semaphore.Weighted) *shard {
	s := &shard{
		id:       id,
		dev:      dev,
		bufs:     make([]buffer, size+1), // +1 for the sentinel at index 0
		byBlock:  make(map[uint32]uint32, size),
		ioTokens: ioTokens,
	}
	for i := range s.bufs {
		s.bufs[i].prev = uint32(i)
		s.bufs[i].next = uint32(i)
	}
	// Thread the sentinel's initial empty ring through every real slot so
	// the LRU list starts as one cycle: sentinel <-> 1 <-> 2 <-> ... <-> N <-> sentinel.
	prev := uint32(sentinel)
	for i := 1; i < len(s.bufs); i++ {
		s.link(prev, uint32(i))
		prev = uint32(i)
	}
	s.link(prev, sentinel)
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

func (s *shard) checkInvariants() {
	if len(s.byBlock) > len(s.bufs)-1 {
		fserrors.InvariantViolation("shard %d: more entries (%d) than slots (%d)", s.id, len(s.byBlock), len(s.bufs)-1)
	}
}

// link makes b's predecessor a and a's successor b.
func (s *shard) link(a, b uint32) {
	s.bufs[a].next = b
	s.bufs[b].prev = a
}

// remove splices index out of the list.
func (s *shard) remove(index uint32) {
	b := &s.bufs[index]
	s.link(b.prev, b.next)
}

// pushMRU makes index the most-recently-used slot (inserted right after
// the sentinel; the LRU end is the sentinel's predecessor).
func (s *shard) pushMRU(index uint32) {
	s.remove(index)
	head := s.bufs[sentinel].next
	s.link(sentinel, index)
	s.link(index, head)
}

// get returns a pinned handle for blockID, loading it from the device on
// a cache miss, retrying with a yield if every slot in the shard is
// currently pinned.
func (s *shard) get(blockID uint32) (Handle, error) {
	for {
		s.mu.Lock()

		if idx, ok := s.byBlock[blockID]; ok {
			s.bufs[idx].refcount++
			s.pushMRU(idx)
			gen := s.bufs[idx].generation
			s.mu.Unlock()
			return Handle{shardID: s.id, index: idx, generation: gen}, nil
		}

		idx, found := s.findEvictable()
		if !found {
			// No buffer is free to evict right now. Release the lock so
			// another goroutine can make progress (e.g. release a pin),
			// yield, and retry.
			s.mu.Unlock()
			runtime.Gosched()
			continue
		}

		b := &s.bufs[idx]
		if b.valid {
			delete(s.byBlock, b.blockID)
		}
		// Pin immediately, under the shard lock, so no other goroutine
		// can pick the same slot while we reload it.
		b.refcount = 1
		b.blockID = blockID
		b.valid = true
		b.dirty = false
		b.generation++
		s.byBlock[blockID] = idx
		s.pushMRU(idx)
		gen := b.generation
		s.mu.Unlock()

		// Bound how many shards can be doing device I/O for a cache miss
		// at once, independent of how many goroutines are blocked above
		// waiting for a slot to free up.
		if err := s.ioTokens.Acquire(context.Background(), 1); err != nil {
			fserrors.InvariantViolation("shard %d: acquiring I/O token for block %d: %v", s.id, blockID, err)
		}
		b.rw.Lock()
		err := s.dev.ReadBlock(blockID, b.data[:])
		b.rw.Unlock()
		s.ioTokens.Release(1)
		if err != nil {
			fserrors.IOError(fmt.Errorf("shard %d: loading block %d: %w", s.id, blockID, err))
		}
		logger.Tracef("bufcache: shard %d loaded block %d into slot %d (gen %d)", s.id, blockID, idx, gen)

		return Handle{shardID: s.id, index: idx, generation: gen}, nil
	}
}

// findEvictable scans the LRU list from the least-recently-used end for
// a buffer with refcount == 0. A dirty evictable buffer is flushed
// before its slot is reused.
func (s *shard) findEvictable() (uint32, bool) {
	for idx := s.bufs[sentinel].prev; idx != sentinel; idx = s.bufs[idx].prev {
		if s.bufs[idx].refcount == 0 {
			if s.bufs[idx].valid && s.bufs[idx].dirty {
				s.flushLocked(idx)
			}
			return idx, true
		}
	}
	return 0, false
}

// flushLocked writes back a dirty buffer. Called with s.mu held; the
// shard lock is intentionally not released across this I/O — eviction
// is already a miss-path cost, and releasing here would reintroduce the
// two-phase claim dance findEvictable's caller already resolved.
func (s *shard) flushLocked(idx uint32) {
	b := &s.bufs[idx]
	b.rw.Lock()
	err := s.dev.WriteBlock(b.blockID, b.data[:])
	b.dirty = false
	b.rw.Unlock()
	if err != nil {
		fserrors.IOError(fmt.Errorf("shard %d: flushing block %d on eviction: %w", s.id, b.blockID, err))
	}
}

func (s *shard) release(index uint32, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &s.bufs[index]
	if b.generation != generation {
		// The handle outlived the buffer it pinned; a correctly-written
		// caller cannot observe this because refcount>0 prevents reuse
		// while pinned.
		fserrors.InvariantViolation("shard %d: release of stale handle for slot %d", s.id, index)
	}
	if b.refcount <= 0 {
		fserrors.InvariantViolation("shard %d: over-release of slot %d", s.id, index)
	}
	b.refcount--
}

// sync forces a write-back of the given slot if dirty, regardless of pin
// count. Used by the log manager at commit time, not by ordinary
// callers.
func (s *shard) sync(index uint32, generation uint64) error {
	s.mu.Lock()
	b := &s.bufs[index]
	if b.generation != generation {
		fserrors.InvariantViolation("shard %d: sync of stale handle for slot %d", s.id, index)
	}
	blockID := b.blockID
	dirty := b.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}

	b.rw.Lock()
	err := s.dev.WriteBlock(blockID, b.data[:])
	s.mu.Lock()
	if b.generation == generation {
		b.dirty = false
	}
	s.mu.Unlock()
	b.rw.Unlock()
	return err
}
