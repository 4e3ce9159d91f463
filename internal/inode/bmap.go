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
	"encoding/binary"
	"fmt"

	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/superblock"
	"github.com/blockfs-go/blockfs/internal/wal"
)

// Bmap returns the physical block index for logical block bn of h's
// inode, allocating through the bitmap allocator as needed. Logical
// blocks at or beyond MAXFILE are rejected. Must run inside a
// transaction whenever it may allocate (i.e. for writes).
func (t *Table) Bmap(h Handle, log *wal.Log, bn uint32) (uint32, error) {
	if bn >= MAXFILE {
		return 0, fmt.Errorf("inode: bmap: logical block %d exceeds MAXFILE (%d)", bn, MAXFILE)
	}

	e := t.slots[h.index]
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := t.load(e); err != nil {
		return 0, err
	}

	if bn < NDIRECT {
		if e.cached.Addrs[bn] == 0 {
			blk, ok, err := superblock.Balloc(t.cache, log, t.sb)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, fserrors.ErrNoBlockSpace
			}
			e.cached.Addrs[bn] = blk
			if err := t.writeBackLocked(e, log); err != nil {
				return 0, err
			}
		}
		return e.cached.Addrs[bn], nil
	}

	// Singly-indirect range.
	indirectBN := bn - NDIRECT
	if e.cached.Addrs[NDIRECT] == 0 {
		blk, ok, err := superblock.Balloc(t.cache, log, t.sb)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fserrors.ErrNoBlockSpace
		}
		e.cached.Addrs[NDIRECT] = blk
		if err := t.writeBackLocked(e, log); err != nil {
			return 0, err
		}
	}

	indirectBlk := e.cached.Addrs[NDIRECT]
	ih, err := t.cache.Get(indirectBlk)
	if err != nil {
		return 0, fmt.Errorf("inode: bmap: loading indirect block: %w", err)
	}
	defer t.cache.Release(ih)

	var target uint32
	off := int(indirectBN) * 4
	_ = t.cache.ReadAs(ih, off, 4, func(b []byte) {
		target = binary.LittleEndian.Uint32(b)
	})
	if target != 0 {
		return target, nil
	}

	blk, ok, err := superblock.Balloc(t.cache, log, t.sb)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fserrors.ErrNoBlockSpace
	}
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, blk)
	if err := t.cache.WriteAs(ih, off, 4, func(b []byte) { copy(b, raw) }); err != nil {
		return 0, err
	}
	log.LogWrite(ih, indirectBlk)
	return blk, nil
}
