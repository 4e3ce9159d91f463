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

// Package superblock holds the immutable disk layout descriptor and the
// bitmap block allocator built on top of it.
package superblock

import (
	"encoding/binary"
	"fmt"

	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/fserrors"
)

// Magic is the superblock's identifying value.
const Magic = 0x53465642 // "BVFS" read as a little-endian u32

// BlockIndex is the well-known location of the superblock.
const BlockIndex = 1

// wireSize is the packed byte size of a Superblock on disk.
const wireSize = 8 * 4

// Superblock is the disk layout descriptor, read once at mount and
// treated as read-only thereafter.
type Superblock struct {
	Magic      uint32
	Size       uint32 // total image size, in blocks
	NBlocks    uint32 // number of data blocks
	NInodes    uint32 // number of inodes
	NLog       uint32 // log length in blocks, including the header
	LogStart   uint32 // block index of the log header
	InodeStart uint32 // block index of the first inode block
	BmapStart  uint32 // block index of the first bitmap block
}

// Marshal packs sb into its on-disk little-endian byte-exact form.
func (sb Superblock) Marshal() []byte {
	buf := make([]byte, wireSize)
	binary.LittleEndian.PutUint32(buf[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], sb.Size)
	binary.LittleEndian.PutUint32(buf[8:12], sb.NBlocks)
	binary.LittleEndian.PutUint32(buf[12:16], sb.NInodes)
	binary.LittleEndian.PutUint32(buf[16:20], sb.NLog)
	binary.LittleEndian.PutUint32(buf[20:24], sb.LogStart)
	binary.LittleEndian.PutUint32(buf[24:28], sb.InodeStart)
	binary.LittleEndian.PutUint32(buf[28:32], sb.BmapStart)
	return buf
}

// Unmarshal reads a Superblock out of raw, which must be at least
// wireSize bytes.
func Unmarshal(raw []byte) Superblock {
	return Superblock{
		Magic:      binary.LittleEndian.Uint32(raw[0:4]),
		Size:       binary.LittleEndian.Uint32(raw[4:8]),
		NBlocks:    binary.LittleEndian.Uint32(raw[8:12]),
		NInodes:    binary.LittleEndian.Uint32(raw[12:16]),
		NLog:       binary.LittleEndian.Uint32(raw[16:20]),
		LogStart:   binary.LittleEndian.Uint32(raw[20:24]),
		InodeStart: binary.LittleEndian.Uint32(raw[24:28]),
		BmapStart:  binary.LittleEndian.Uint32(raw[28:32]),
	}
}

// Load reads and validates the superblock from the well-known block
// index through cache. A magic mismatch is a fatal invariant violation:
// the image is not one this code can interpret safely.
func Load(cache *bufcache.Cache) (Superblock, error) {
	h, err := cache.Get(BlockIndex)
	if err != nil {
		return Superblock{}, fmt.Errorf("superblock: load: %w", err)
	}
	defer cache.Release(h)

	var raw []byte
	if err := cache.ReadAs(h, 0, wireSize, func(b []byte) {
		raw = append([]byte(nil), b...)
	}); err != nil {
		return Superblock{}, fmt.Errorf("superblock: load: %w", err)
	}

	sb := Unmarshal(raw)
	if sb.Magic != Magic {
		fserrors.InvariantViolation("superblock: bad magic %#x, want %#x", sb.Magic, Magic)
	}
	return sb, nil
}
