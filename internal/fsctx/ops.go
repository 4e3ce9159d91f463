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

package fsctx

import (
	"fmt"

	"github.com/blockfs-go/blockfs/internal/inode"
)

// Stat is the subset of a DiskInode callers outside the core are
// allowed to see.
type Stat struct {
	Inum  uint32
	FType inode.FType
	Size  uint32
	NLink uint16
}

// Open resolves path to its inode, returning a handle the caller must
// eventually pass to Release. It does not create anything, but the walk
// still runs inside a transaction: releasing an intermediate directory's
// handle as traversal advances past it can be the release that drops its
// last reference, which requires a transaction to truncate and free it
// on disk.
func (fs *Filesystem) Open(path string) (inode.Handle, error) {
	fs.Log.BeginOp()
	defer fs.Log.EndOp()

	h, err := fs.Dir.Resolve(path, false)
	if err != nil {
		return inode.Handle{}, fmt.Errorf("fsctx: open %q: %w", path, err)
	}
	return h, nil
}

// Create creates a new inode of ftype named by path's final component,
// or returns the existing one if it already matches ftype.
func (fs *Filesystem) Create(path string, ftype inode.FType) (inode.Handle, error) {
	fs.Log.BeginOp()
	defer fs.Log.EndOp()

	h, err := fs.Dir.Create(path, ftype)
	if err != nil {
		return inode.Handle{}, fmt.Errorf("fsctx: create %q: %w", path, err)
	}
	return h, nil
}

// Mkdir is Create specialized to directories.
func (fs *Filesystem) Mkdir(path string) (inode.Handle, error) {
	return fs.Create(path, inode.FTypeDir)
}

// Unlink removes path's directory entry and drops the target's link
// count, freeing it on disk once its last handle is released.
func (fs *Filesystem) Unlink(path string) error {
	fs.Log.BeginOp()
	defer fs.Log.EndOp()

	if err := fs.Dir.Unlink(path); err != nil {
		return fmt.Errorf("fsctx: unlink %q: %w", path, err)
	}
	return nil
}

// Read reads from h at byte offset off into dst. Read-only: it never
// allocates, so it does not need a transaction.
func (fs *Filesystem) Read(h inode.Handle, off uint32, dst []byte) (int, error) {
	n, err := fs.Table.Read(h, fs.Log, off, dst)
	if err != nil {
		return n, fmt.Errorf("fsctx: read: %w", err)
	}
	return n, nil
}

// Write writes src into h at byte offset off, growing the file and
// allocating blocks as needed.
func (fs *Filesystem) Write(h inode.Handle, off uint32, src []byte) (int, error) {
	fs.Log.BeginOp()
	defer fs.Log.EndOp()

	n, err := fs.Table.Write(h, fs.Log, off, src)
	if err != nil {
		return n, fmt.Errorf("fsctx: write: %w", err)
	}
	return n, nil
}

// Stat returns the subset of h's on-disk inode callers may observe.
func (fs *Filesystem) Stat(h inode.Handle) (Stat, error) {
	dn, err := fs.Table.ReadDiskInode(h)
	if err != nil {
		return Stat{}, fmt.Errorf("fsctx: stat: %w", err)
	}
	return Stat{Inum: h.Inum, FType: dn.FType, Size: dn.Size, NLink: dn.NLink}, nil
}

// Release drops h's external reference, freeing the inode on disk if
// this was the last reference and its link count has reached zero.
func (fs *Filesystem) Release(h inode.Handle) error {
	fs.Log.BeginOp()
	defer fs.Log.EndOp()

	if err := fs.Table.Release(h, fs.Log); err != nil {
		return fmt.Errorf("fsctx: release: %w", err)
	}
	return nil
}
