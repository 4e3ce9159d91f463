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

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/wal"
)

// Read copies up to len(dst) bytes from h's inode starting at byte
// offset off into dst, clamped to the inode's recorded size, and
// returns the number of bytes copied.
func (t *Table) Read(h Handle, log *wal.Log, off uint32, dst []byte) (int, error) {
	dn, err := t.ReadDiskInode(h)
	if err != nil {
		return 0, err
	}
	if off > dn.Size {
		return 0, nil
	}
	n := len(dst)
	if uint32(n) > dn.Size-off {
		n = int(dn.Size - off)
	}

	read := 0
	for read < n {
		bn := (off + uint32(read)) / blockdev.BlockSize
		boff := int((off + uint32(read)) % blockdev.BlockSize)
		chunk := blockdev.BlockSize - boff
		if remain := n - read; chunk > remain {
			chunk = remain
		}

		physical, err := t.Bmap(h, log, bn)
		if err != nil {
			return read, err
		}
		bh, err := t.cache.Get(physical)
		if err != nil {
			return read, fmt.Errorf("inode: read: %w", err)
		}
		if err := t.cache.ReadAs(bh, boff, chunk, func(b []byte) {
			copy(dst[read:read+chunk], b)
		}); err != nil {
			t.cache.Release(bh)
			return read, err
		}
		t.cache.Release(bh)

		read += chunk
	}
	return read, nil
}

// Write copies src into h's inode starting at byte offset off,
// allocating blocks as needed via Bmap, and grows the inode's recorded
// size if the write extends past it. Must run inside a transaction.
func (t *Table) Write(h Handle, log *wal.Log, off uint32, src []byte) (int, error) {
	n := len(src)
	written := 0
	for written < n {
		bn := (off + uint32(written)) / blockdev.BlockSize
		boff := int((off + uint32(written)) % blockdev.BlockSize)
		chunk := blockdev.BlockSize - boff
		if remain := n - written; chunk > remain {
			chunk = remain
		}

		physical, err := t.Bmap(h, log, bn)
		if err != nil {
			return written, err
		}
		bh, err := t.cache.Get(physical)
		if err != nil {
			return written, fmt.Errorf("inode: write: %w", err)
		}
		if err := t.cache.WriteAs(bh, boff, chunk, func(b []byte) {
			copy(b, src[written:written+chunk])
		}); err != nil {
			t.cache.Release(bh)
			return written, err
		}
		log.LogWrite(bh, physical)
		t.cache.Release(bh)

		written += chunk
	}

	newSize := off + uint32(written)
	if err := t.ModifyDiskInode(h, log, func(d *DiskInode) {
		if newSize > d.Size {
			d.Size = newSize
		}
	}); err != nil {
		return written, err
	}
	return written, nil
}
