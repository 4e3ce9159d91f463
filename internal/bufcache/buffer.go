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

// Package bufcache implements a sharded, fixed-size block buffer cache.
// The classic intrusive-doubly-linked-list LRU is replaced by a
// fixed-size slice per shard plus an intrusive list addressed by slot
// index (prev/next uint32, sentinel at index 0), and external callers
// hold a handle of (shard id, slot index, generation) rather than a raw
// pointer.
package bufcache

import (
	"sync"

	"github.com/blockfs-go/blockfs/internal/blockdev"
)

// sentinel is the list-head/tail index. It never holds real block data.
const sentinel = 0

// buffer is one resident block image plus its LRU linkage and pin count.
// data is guarded by rw, the reader/writer lock callers hold for the
// duration of their access. dirty, blockID, refcount, generation and
// the list links are guarded by the owning shard's mutex instead,
// since they change during bookkeeping operations (get/evict/release)
// rather than during a read or write of the block's contents.
type buffer struct {
	rw   sync.RWMutex
	data [blockdev.BlockSize]byte

	valid      bool // false until first populated
	dirty      bool
	blockID    uint32
	refcount   int32
	generation uint64

	prev, next uint32
}

// Handle is an opaque pinned reference to a resident buffer. It is valid
// until Release is called; using it afterwards is a bug.
type Handle struct {
	shardID    uint32
	index      uint32
	generation uint64
}
