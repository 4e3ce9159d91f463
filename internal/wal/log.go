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

// Package wal implements a bounded, group-commit write-ahead log:
// BeginOp/LogWrite/EndOp, an admission control rule enforced with a
// condition variable, and a crash-safe five-step commit protocol.
//
// Unlike the buffer cache's shards, the admission-control wait here is
// built directly on sync.Mutex/sync.Cond rather than syncutil.InvariantMutex:
// InvariantMutex has no condition variable, and a bounded
// producer/consumer admission gate needs one. sync.Cond is a
// standard-library concurrency primitive, not a replaceable third-party
// concern.
package wal

import (
	"fmt"
	"sync"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/logger"
	"github.com/google/uuid"
)

// Log is the write-ahead log manager. One Log is created per mount and
// shared by every concurrent filesystem operation; it owns no global
// state.
type Log struct {
	cache *bufcache.Cache

	logStart uint32 // block index of the LogHeader
	bodyLen  int    // LOG_BODY_LEN
	maxOp    int    // MAX_OP

	mu   sync.Mutex
	cond *sync.Cond

	outstanding int
	committing  bool

	n   int
	dst []uint32 // dst[0:n] are the home block indices of the current transaction

	// pinned holds one extra cache handle per logged block, keeping it
	// resident (and visible as dirty) until commit installs it. Home
	// blocks mutated inside a transaction stay pinned via these handles
	// until commit completes.
	pinned map[uint32]bufcache.Handle
}

// New creates a Log bound to cache, rooted at logStart with a body of
// bodyLen blocks and a worst case of maxOp distinct blocks per
// operation.
func New(cache *bufcache.Cache, logStart uint32, bodyLen, maxOp int) *Log {
	l := &Log{
		cache:    cache,
		logStart: logStart,
		bodyLen:  bodyLen,
		maxOp:    maxOp,
		dst:      make([]uint32, bodyLen),
		pinned:   make(map[uint32]bufcache.Handle, bodyLen),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// BeginOp reserves log slots for one filesystem operation, blocking
// until admitting it cannot overflow the log and no commit is in
// progress.
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.committing || l.n+(l.outstanding+1)*l.maxOp > l.bodyLen {
		l.cond.Wait()
	}
	l.outstanding++
}

// EndOp ends one operation. The last concurrent operation to finish
// performs the group commit, with the log's mutex released during the
// actual I/O.
func (l *Log) EndOp() {
	l.mu.Lock()
	l.outstanding--
	if l.outstanding < 0 {
		fserrors.InvariantViolation("wal: EndOp called more times than BeginOp")
	}
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	}
	l.mu.Unlock()

	if !doCommit {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
		return
	}

	l.commit()

	l.mu.Lock()
	l.committing = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

// LogWrite records that the block pinned by h is part of the current
// transaction and must be committed atomically with the rest of it. It
// must be called between a BeginOp/EndOp pair for every block the
// operation mutates.
func (l *Log) LogWrite(h bufcache.Handle, blockID uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Absorption: a block already in the transaction consumes no new slot.
	for i := 0; i < l.n; i++ {
		if l.dst[i] == blockID {
			return
		}
	}

	if l.n >= l.bodyLen {
		fserrors.InvariantViolation("wal: log overflow, more than %d distinct blocks touched", l.bodyLen)
	}

	l.dst[l.n] = blockID
	l.n++

	if _, ok := l.pinned[blockID]; !ok {
		pin, err := l.cache.Get(blockID)
		if err != nil {
			fserrors.IOError(fmt.Errorf("wal: pinning logged block %d: %w", blockID, err))
		}
		l.pinned[blockID] = pin
	}
}

// commit runs the five-step crash-safe protocol: write the log body,
// write the header (the commit point), install to home locations, clear
// the header, then release pins.
func (l *Log) commit() {
	l.mu.Lock()
	n := l.n
	dst := make([]uint32, n)
	copy(dst, l.dst[:n])
	l.mu.Unlock()

	if n == 0 {
		return
	}

	txID := uuid.NewString()
	logger.Debugf("wal: tx %s committing %d blocks", txID, n)

	// Step 1: write log body, forced to device.
	for i := 0; i < n; i++ {
		l.copyBlock(dst[i], l.logStart+1+uint32(i))
	}

	// Step 2: write log header. This is the commit point.
	l.writeHeader(n, dst)
	logger.Debugf("wal: tx %s commit point reached", txID)

	// Step 3: install — copy log body blocks to their home locations.
	for i := 0; i < n; i++ {
		l.copyBlock(l.logStart+1+uint32(i), dst[i])
	}

	// Step 4: clear header.
	l.writeHeader(0, nil)

	// Step 5: release pins and reset in-memory state.
	l.mu.Lock()
	for _, blockID := range dst {
		if pin, ok := l.pinned[blockID]; ok {
			l.cache.Release(pin)
			delete(l.pinned, blockID)
		}
	}
	l.n = 0
	l.mu.Unlock()

	logger.Debugf("wal: tx %s commit complete", txID)
}

// copyBlock copies the full contents of block src to block dst through
// the buffer cache and forces dst to the device.
func (l *Log) copyBlock(src, dst uint32) {
	var buf [blockdev.BlockSize]byte

	srcH, err := l.cache.Get(src)
	if err != nil {
		fserrors.IOError(fmt.Errorf("wal: reading block %d: %w", src, err))
	}
	_ = l.cache.ReadAs(srcH, 0, blockdev.BlockSize, func(b []byte) { copy(buf[:], b) })
	l.cache.Release(srcH)

	dstH, err := l.cache.Get(dst)
	if err != nil {
		fserrors.IOError(fmt.Errorf("wal: writing block %d: %w", dst, err))
	}
	_ = l.cache.WriteAs(dstH, 0, blockdev.BlockSize, func(b []byte) { copy(b, buf[:]) })
	if err := l.cache.Sync(dstH); err != nil {
		fserrors.IOError(fmt.Errorf("wal: forcing block %d: %w", dst, err))
	}
	l.cache.Release(dstH)
}

func (l *Log) writeHeader(n int, dst []uint32) {
	h, err := l.cache.Get(l.logStart)
	if err != nil {
		fserrors.IOError(fmt.Errorf("wal: loading header block: %w", err))
	}
	hdr := Header{N: uint32(n), Dst: make([]uint32, l.bodyLen)}
	copy(hdr.Dst, dst)
	raw := hdr.Marshal()
	_ = l.cache.WriteAs(h, 0, len(raw), func(b []byte) { copy(b, raw) })
	if err := l.cache.Sync(h); err != nil {
		fserrors.IOError(fmt.Errorf("wal: forcing header block: %w", err))
	}
	l.cache.Release(h)
}
