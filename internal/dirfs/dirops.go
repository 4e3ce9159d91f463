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

package dirfs

import (
	"fmt"

	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/inode"
	"github.com/blockfs-go/blockfs/internal/wal"
	"golang.org/x/text/unicode/norm"
)

// Dir wraps an inode table and log for directory-data operations.
type Dir struct {
	Table *inode.Table
	Log   *wal.Log
}

func (d *Dir) readEntry(h inode.Handle, offset uint32) (DirEntry, error) {
	raw := make([]byte, EntrySize)
	n, err := d.Table.Read(h, d.Log, offset, raw)
	if err != nil {
		return DirEntry{}, err
	}
	if n < EntrySize {
		return DirEntry{Inum: 0}, nil
	}
	return UnmarshalDirEntry(raw), nil
}

func (d *Dir) writeEntry(h inode.Handle, offset uint32, e DirEntry) error {
	raw, err := e.Marshal()
	if err != nil {
		return err
	}
	_, err = d.Table.Write(h, d.Log, offset, raw)
	return err
}

// Lookup scans dir's entries for name, returning the child's inode
// handle and the byte offset of its directory entry. Returns
// ErrNotFound if no entry named name exists.
func (d *Dir) Lookup(dir inode.Handle, name string) (child inode.Handle, offset uint32, err error) {
	dn, err := d.Table.ReadDiskInode(dir)
	if err != nil {
		return inode.Handle{}, 0, err
	}
	if dn.FType != inode.FTypeDir {
		return inode.Handle{}, 0, fserrors.ErrNotADirectory
	}

	target := norm.NFC.String(name)
	for off := uint32(0); off < dn.Size; off += EntrySize {
		e, err := d.readEntry(dir, off)
		if err != nil {
			return inode.Handle{}, 0, err
		}
		if e.Inum == 0 {
			continue
		}
		if norm.NFC.String(e.Name) == target {
			h, err := d.Table.Get(e.Inum)
			if err != nil {
				return inode.Handle{}, 0, err
			}
			return h, off, nil
		}
	}
	return inode.Handle{}, 0, fmt.Errorf("dirfs: lookup %q: %w", name, fserrors.ErrNotFound)
}

// Link adds name -> inum into dir, reusing a free (inum == 0) slot if
// one exists or appending at the end otherwise. Must run inside a
// transaction. Fails with ErrAlreadyExists if the name is already
// present.
func (d *Dir) Link(dir inode.Handle, name string, inum uint32) error {
	dn, err := d.Table.ReadDiskInode(dir)
	if err != nil {
		return err
	}

	var freeOffset uint32 = dn.Size
	foundFree := false
	target := norm.NFC.String(name)
	for off := uint32(0); off < dn.Size; off += EntrySize {
		e, err := d.readEntry(dir, off)
		if err != nil {
			return err
		}
		if e.Inum == 0 {
			if !foundFree {
				freeOffset = off
				foundFree = true
			}
			continue
		}
		if norm.NFC.String(e.Name) == target {
			return fmt.Errorf("dirfs: link %q: %w", name, fserrors.ErrAlreadyExists)
		}
	}

	return d.writeEntry(dir, freeOffset, DirEntry{Inum: inum, Name: name})
}

// ReadDir returns every occupied entry in dir, in on-disk order.
func (d *Dir) ReadDir(dir inode.Handle) ([]DirEntry, error) {
	dn, err := d.Table.ReadDiskInode(dir)
	if err != nil {
		return nil, err
	}
	if dn.FType != inode.FTypeDir {
		return nil, fserrors.ErrNotADirectory
	}

	var entries []DirEntry
	for off := uint32(0); off < dn.Size; off += EntrySize {
		e, err := d.readEntry(dir, off)
		if err != nil {
			return nil, err
		}
		if e.Inum == 0 {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// unlinkEntry clears the entry for name in dir, returning ErrNotFound if
// it does not exist. Must run inside a transaction.
func (d *Dir) unlinkEntry(dir inode.Handle, name string) error {
	dn, err := d.Table.ReadDiskInode(dir)
	if err != nil {
		return err
	}

	target := norm.NFC.String(name)
	for off := uint32(0); off < dn.Size; off += EntrySize {
		e, err := d.readEntry(dir, off)
		if err != nil {
			return err
		}
		if e.Inum == 0 {
			continue
		}
		if norm.NFC.String(e.Name) == target {
			return d.writeEntry(dir, off, DirEntry{Inum: 0, Name: ""})
		}
	}
	return fmt.Errorf("dirfs: unlink %q: %w", name, fserrors.ErrNotFound)
}
