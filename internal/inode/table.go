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

package inode

import (
	"fmt"
	"sync"

	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/superblock"
	"github.com/blockfs-go/blockfs/internal/wal"
)

// entry is one slot in the fixed-size inode table. cached/loaded are
// guarded by mu, the "inode.diskinode" lock; refcount, inum and draining
// are guarded by the owning Table's mu instead.
type entry struct {
	mu sync.Mutex

	inum     uint32
	refcount int32

	// draining is set the instant refcount drops to zero and the slot's
	// byInum mapping is removed (whatever nlink is), and cleared
	// once Release's truncate-and-free has finished touching the slot.
	// Get's free-slot scan must skip a draining slot: it is mid-I/O
	// under a different inum than whatever byInum now says, and handing
	// it out early would hand the caller a handle to an inode that is
	// about to be truncated and marked free out from under it.
	draining bool

	loaded bool
	cached DiskInode
}

// Table is the process-wide inode handle table, one per mounted
// filesystem.
type Table struct {
	cache *bufcache.Cache
	sb    superblock.Superblock

	mu     sync.Mutex
	slots  []*entry
	byInum map[uint32]uint32 // inum -> slot index, excludes free slots
}

// New creates a Table with room for size resident inode handles.
func New(cache *bufcache.Cache, sb superblock.Superblock, size int) *Table {
	t := &Table{
		cache:  cache,
		sb:     sb,
		slots:  make([]*entry, size),
		byInum: make(map[uint32]uint32, size),
	}
	for i := range t.slots {
		t.slots[i] = &entry{}
	}
	return t
}

// Handle is a shared, reference-counted reference to a resident inode.
// It is valid until Release is called on it.
type Handle struct {
	table *Table
	index uint32
	Inum  uint32
}

// Get returns a handle for inum, sharing the existing resident entry if
// one is already in the table, or claiming a free, non-draining slot
// and loading lazily otherwise. It panics if every slot is pinned or
// draining.
//
// byInum only ever holds entries with refcount > 0: Release removes the
// mapping at the same instant it drops refcount to zero (see Release),
// so a miss here can never race a concurrent Release's post-unlock
// truncate-and-free of that same inum.
func (t *Table) Get(inum uint32) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byInum[inum]; ok {
		t.slots[idx].refcount++
		return Handle{table: t, index: idx, Inum: inum}, nil
	}

	for idx, e := range t.slots {
		if e.refcount == 0 && !e.draining {
			e.mu.Lock()
			e.inum = inum
			e.refcount = 1
			e.loaded = false
			e.cached = DiskInode{}
			e.mu.Unlock()
			t.byInum[inum] = uint32(idx)
			return Handle{table: t, index: uint32(idx), Inum: inum}, nil
		}
	}

	fserrors.InvariantViolation("inode: table exhausted, no free slot for inode %d", inum)
	panic("unreachable")
}

func (t *Table) locate(inum uint32) (blockIdx uint32, offset int) {
	blockIdx = t.sb.InodeStart + (inum-1)/IPB
	offset = int((inum-1)%IPB) * diskInodeSize
	return
}

func (t *Table) load(e *entry) error {
	if e.loaded {
		return nil
	}
	blockIdx, offset := t.locate(e.inum)
	h, err := t.cache.Get(blockIdx)
	if err != nil {
		return fmt.Errorf("inode: loading inode %d: %w", e.inum, err)
	}
	defer t.cache.Release(h)

	var raw []byte
	if err := t.cache.ReadAs(h, offset, diskInodeSize, func(b []byte) {
		raw = append([]byte(nil), b...)
	}); err != nil {
		return fmt.Errorf("inode: loading inode %d: %w", e.inum, err)
	}
	e.cached = UnmarshalDiskInode(raw)
	e.loaded = true
	return nil
}

// ReadDiskInode returns a copy of h's cached on-disk inode, lazily
// loading it first if this is the handle's first access.
func (t *Table) ReadDiskInode(h Handle) (DiskInode, error) {
	e := t.slots[h.index]
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := t.load(e); err != nil {
		return DiskInode{}, err
	}
	return e.cached, nil
}

// ModifyDiskInode applies fn to h's cached on-disk inode and writes the
// result back to its containing inode block through log. Must run
// inside a transaction.
func (t *Table) ModifyDiskInode(h Handle, log *wal.Log, fn func(*DiskInode)) error {
	e := t.slots[h.index]
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := t.load(e); err != nil {
		return err
	}
	fn(&e.cached)
	return t.writeBackLocked(e, log)
}

func (t *Table) writeBackLocked(e *entry, log *wal.Log) error {
	blockIdx, offset := t.locate(e.inum)
	h, err := t.cache.Get(blockIdx)
	if err != nil {
		return fmt.Errorf("inode: writing back inode %d: %w", e.inum, err)
	}
	defer t.cache.Release(h)

	raw := e.cached.Marshal()
	if err := t.cache.WriteAs(h, offset, len(raw), func(b []byte) { copy(b, raw) }); err != nil {
		return fmt.Errorf("inode: writing back inode %d: %w", e.inum, err)
	}
	log.LogWrite(h, blockIdx)
	return nil
}

// Release drops h's external reference. If this was the last reference
// and the cached copy's nlink has reached zero, the inode is truncated
// and freed on disk. The caller must ensure this runs inside a
// begin_op/end_op pair.
//
// The last reference dropping to zero, the removal of the slot's
// byInum mapping, and the raising of its draining flag all happen
// under a single hold of t.mu, so a concurrent Get(h.Inum) either
// still observes the live mapping (and shares the reference that is
// being released, seeing last == false) or observes a full miss and
// skips this slot entirely while draining is set — it can never
// reattach to a slot that Release is mid-way through truncating and
// marking free on disk.
func (t *Table) Release(h Handle, log *wal.Log) error {
	t.mu.Lock()
	e := t.slots[h.index]
	e.refcount--
	if e.refcount < 0 {
		fserrors.InvariantViolation("inode: over-release of inode %d", h.Inum)
	}
	last := e.refcount == 0
	if last {
		if prev, ok := t.byInum[e.inum]; ok && prev == h.index {
			delete(t.byInum, e.inum)
		}
		e.draining = true
	}
	t.mu.Unlock()

	if !last {
		return nil
	}

	freeErr := t.freeIfUnlinked(h, log)

	t.mu.Lock()
	e.draining = false
	t.mu.Unlock()

	return freeErr
}

// freeIfUnlinked does the actual truncate-and-free I/O for a draining
// slot whose refcount has already reached zero.
func (t *Table) freeIfUnlinked(h Handle, log *wal.Log) error {
	dn, err := t.ReadDiskInode(h)
	if err != nil {
		return err
	}
	if dn.NLink != 0 {
		return nil
	}

	if err := Truncate(t, h, log); err != nil {
		return err
	}
	return t.ModifyDiskInode(h, log, func(d *DiskInode) {
		d.FType = FTypeFree
		d.Size = 0
	})
}
