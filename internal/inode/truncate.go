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

	"github.com/blockfs-go/blockfs/internal/superblock"
	"github.com/blockfs-go/blockfs/internal/wal"
)

// Truncate frees every block h's inode addresses — direct slots, then
// the indirect block's children and the indirect block itself — and
// zeroes the address array. Must run inside a transaction.
func Truncate(t *Table, h Handle, log *wal.Log) error {
	e := t.slots[h.index]
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := t.load(e); err != nil {
		return err
	}

	for i := 0; i < NDIRECT; i++ {
		if e.cached.Addrs[i] != 0 {
			if err := superblock.Bfree(t.cache, log, t.sb, e.cached.Addrs[i]); err != nil {
				return err
			}
			e.cached.Addrs[i] = 0
		}
	}

	if indirectBlk := e.cached.Addrs[NDIRECT]; indirectBlk != 0 {
		ih, err := t.cache.Get(indirectBlk)
		if err != nil {
			return fmt.Errorf("inode: truncate: loading indirect block: %w", err)
		}
		var children [NINDIRECT]uint32
		_ = t.cache.ReadAs(ih, 0, NINDIRECT*4, func(b []byte) {
			for i := range children {
				children[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
			}
		})
		t.cache.Release(ih)

		for _, child := range children {
			if child != 0 {
				if err := superblock.Bfree(t.cache, log, t.sb, child); err != nil {
					return err
				}
			}
		}

		if err := superblock.Bfree(t.cache, log, t.sb, indirectBlk); err != nil {
			return err
		}
		e.cached.Addrs[NDIRECT] = 0
	}

	return t.writeBackLocked(e, log)
}
