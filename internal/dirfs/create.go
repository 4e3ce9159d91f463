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
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/inode"
)

// Create resolves p's parent directory and creates a new inode of
// ftype named by p's final component. If an entry with that name
// already exists and its type matches ftype, Create is idempotent and
// returns the existing inode. Must run inside a transaction.
func (d *Dir) Create(p string, ftype inode.FType) (inode.Handle, error) {
	dir, name := path.Split(strings.TrimSuffix(p, "/"))
	if name == "" {
		return inode.Handle{}, fmt.Errorf("dirfs: create %q: empty name", p)
	}
	if dir == "" {
		dir = "/"
	}

	parent, err := d.Resolve(dir, false)
	if err != nil {
		return inode.Handle{}, fmt.Errorf("dirfs: create %q: %w", p, err)
	}

	existing, _, err := d.Lookup(parent, name)
	if err == nil {
		dn, rerr := d.Table.ReadDiskInode(existing)
		if rerr != nil {
			_ = d.Table.Release(parent, d.Log)
			return inode.Handle{}, rerr
		}
		_ = d.Table.Release(parent, d.Log)
		if dn.FType == ftype {
			return existing, nil
		}
		_ = d.Table.Release(existing, d.Log)
		return inode.Handle{}, fmt.Errorf("dirfs: create %q: %w", p, fserrors.ErrAlreadyExists)
	}
	if !errors.Is(err, fserrors.ErrNotFound) {
		_ = d.Table.Release(parent, d.Log)
		return inode.Handle{}, err
	}

	child, ok, err := d.Table.Alloc(d.Log, ftype)
	if err != nil {
		_ = d.Table.Release(parent, d.Log)
		return inode.Handle{}, err
	}
	if !ok {
		_ = d.Table.Release(parent, d.Log)
		return inode.Handle{}, fserrors.ErrNoInodeSpace
	}

	// abandonChild drives child back to NLink == 0 and releases it so
	// Table.Release frees it (and anything already written into it) on
	// disk in this same transaction, per spec.md §7: "if inode_alloc
	// succeeds but the parent dirlink fails, the caller must free the
	// inode". Every failure path from here on must go through it instead
	// of returning directly, or the allocated inode and its table slot
	// leak permanently.
	abandonChild := func(cause error) (inode.Handle, error) {
		_ = d.Table.ModifyDiskInode(child, d.Log, func(dn *inode.DiskInode) {
			dn.NLink = 0
		})
		_ = d.Table.Release(child, d.Log)
		_ = d.Table.Release(parent, d.Log)
		return inode.Handle{}, cause
	}

	if err := d.Table.ModifyDiskInode(child, d.Log, func(dn *inode.DiskInode) {
		dn.NLink = 1
		dn.Size = 0
	}); err != nil {
		return abandonChild(err)
	}

	if ftype == inode.FTypeDir {
		if err := d.Link(child, ".", child.Inum); err != nil {
			return abandonChild(err)
		}
		if err := d.Link(child, "..", parent.Inum); err != nil {
			return abandonChild(err)
		}
	}

	if err := d.Link(parent, name, child.Inum); err != nil {
		return abandonChild(err)
	}

	if ftype == inode.FTypeDir {
		if err := d.Table.ModifyDiskInode(parent, d.Log, func(dn *inode.DiskInode) {
			dn.NLink++
		}); err != nil {
			return abandonChild(err)
		}
	}

	_ = d.Table.Release(parent, d.Log)
	return child, nil
}
