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

	"github.com/blockfs-go/blockfs/internal/wal"
)

// Alloc scans the on-disk inode blocks starting at RootIno for the first
// inode with FType == FTypeFree, claims it with the requested type, and
// returns a table handle for it. Must run inside a transaction. ok is
// false if every inode is in use.
func (t *Table) Alloc(log *wal.Log, ftype FType) (h Handle, ok bool, err error) {
	for inum := uint32(RootIno); inum <= t.sb.NInodes; inum++ {
		blockIdx, offset := t.locate(inum)

		bh, gerr := t.cache.Get(blockIdx)
		if gerr != nil {
			return Handle{}, false, fmt.Errorf("inode: alloc: %w", gerr)
		}

		var raw []byte
		if rerr := t.cache.ReadAs(bh, offset, diskInodeSize, func(b []byte) {
			raw = append([]byte(nil), b...)
		}); rerr != nil {
			t.cache.Release(bh)
			return Handle{}, false, fmt.Errorf("inode: alloc: %w", rerr)
		}

		if UnmarshalDiskInode(raw).FType != FTypeFree {
			t.cache.Release(bh)
			continue
		}

		fresh := DiskInode{FType: ftype}
		out := fresh.Marshal()
		if werr := t.cache.WriteAs(bh, offset, len(out), func(b []byte) { copy(b, out) }); werr != nil {
			t.cache.Release(bh)
			return Handle{}, false, fmt.Errorf("inode: alloc: %w", werr)
		}
		log.LogWrite(bh, blockIdx)
		t.cache.Release(bh)

		h, err = t.Get(inum)
		if err != nil {
			return Handle{}, false, err
		}
		return h, true, nil
	}
	return Handle{}, false, nil
}
