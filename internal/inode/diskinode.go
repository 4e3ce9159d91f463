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

// Package inode implements the in-memory inode handle table: lazy
// loading of on-disk inode copies, reference counting, last-reference
// truncate-then-free, and the direct/singly-indirect block map.
package inode

import (
	"encoding/binary"

	"github.com/blockfs-go/blockfs/internal/blockdev"
)

// FType is the on-disk file type tag.
type FType uint16

const (
	FTypeFree FType = 0
	FTypeFile FType = 1
	FTypeDir  FType = 2
)

const (
	// NDIRECT is the number of direct block pointers in a DiskInode.
	NDIRECT = 12
	// NINDIRECT is the number of block pointers a single indirect block
	// can hold.
	NINDIRECT = blockdev.BlockSize / 4
	// MAXFILE is the maximum file size in blocks; logical block indices
	// run from 0 to MAXFILE-1.
	MAXFILE = NDIRECT + NINDIRECT
	// IPB is the number of DiskInodes packed into one block.
	IPB = blockdev.BlockSize / diskInodeSize
	// RootIno is the well-known inode number of the filesystem root.
	RootIno = 1
)

const diskInodeSize = 64 // 4 + 2 + 2 + 4 + 13*4

// DiskInode is the on-disk inode: dev is reserved for future multi-volume
// support and is always 0 for a single-device mount.
type DiskInode struct {
	Dev   uint32
	FType FType
	NLink uint16
	Size  uint32
	Addrs [NDIRECT + 1]uint32 // Addrs[NDIRECT] is the singly-indirect pointer
}

// Marshal packs d into its on-disk little-endian byte-exact form.
func (d DiskInode) Marshal() []byte {
	buf := make([]byte, diskInodeSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Dev)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(d.FType))
	binary.LittleEndian.PutUint16(buf[6:8], d.NLink)
	binary.LittleEndian.PutUint32(buf[8:12], d.Size)
	for i, a := range d.Addrs {
		off := 12 + 4*i
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
	}
	return buf
}

// UnmarshalDiskInode reads a DiskInode out of raw, which must be at
// least diskInodeSize bytes.
func UnmarshalDiskInode(raw []byte) DiskInode {
	d := DiskInode{
		Dev:   binary.LittleEndian.Uint32(raw[0:4]),
		FType: FType(binary.LittleEndian.Uint16(raw[4:6])),
		NLink: binary.LittleEndian.Uint16(raw[6:8]),
		Size:  binary.LittleEndian.Uint32(raw[8:12]),
	}
	for i := range d.Addrs {
		off := 12 + 4*i
		d.Addrs[i] = binary.LittleEndian.Uint32(raw[off : off+4])
	}
	return d
}
