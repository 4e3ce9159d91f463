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

// Package mkfs lays out a fresh on-disk image: superblock, zeroed log,
// root inode, bitmap, and data region. It writes directly against a
// blockdev.Device, never through the buffer cache or log, since at
// format time there is no transaction journal to protect yet.
package mkfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/dirfs"
	"github.com/blockfs-go/blockfs/internal/inode"
	"github.com/blockfs-go/blockfs/internal/superblock"
	"github.com/blockfs-go/blockfs/internal/wal"
	"github.com/google/renameio/v2"
)

// Options sizes a fresh image.
type Options struct {
	NBlocks uint32 // total image size, in blocks
	NInodes uint32 // number of on-disk inode slots
	NLog    uint32 // log length in blocks, including the header block
}

// DefaultOptions returns sensible sizing for an image of nblocks blocks.
func DefaultOptions(nblocks uint32) Options {
	return Options{
		NBlocks: nblocks,
		NInodes: 200,
		NLog:    31,
	}
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// layout derives every region boundary from opts, mirroring the
// leaves-up ordering: superblock, log, inodes, bitmap, data.
func layout(opts Options) superblock.Superblock {
	const bootBlocks = 1
	logStart := uint32(bootBlocks + 1) // block 0 is boot, block 1 is superblock
	inodeStart := logStart + opts.NLog
	nInodeBlocks := ceilDiv(opts.NInodes, inode.IPB)
	bmapStart := inodeStart + nInodeBlocks
	nBmapBlocks := ceilDiv(opts.NBlocks, superblock.BPB)

	return superblock.Superblock{
		Magic:      superblock.Magic,
		Size:       opts.NBlocks,
		NBlocks:    opts.NBlocks - (bmapStart + nBmapBlocks),
		NInodes:    opts.NInodes,
		NLog:       opts.NLog,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
	}
}

func writeZeroBlock(dev blockdev.Device, idx uint32) error {
	return dev.WriteBlock(idx, make([]byte, blockdev.BlockSize))
}

// Write lays out a fresh image directly onto dev, which must already be
// sized to opts.NBlocks blocks.
func Write(dev blockdev.Device, opts Options) error {
	if dev.NumBlocks() != opts.NBlocks {
		return fmt.Errorf("mkfs: device has %d blocks, options specify %d", dev.NumBlocks(), opts.NBlocks)
	}

	sb := layout(opts)
	nBmapBlocks := ceilDiv(opts.NBlocks, superblock.BPB)
	dataStart := sb.BmapStart + nBmapBlocks

	for i := uint32(0); i < opts.NBlocks; i++ {
		if err := writeZeroBlock(dev, i); err != nil {
			return fmt.Errorf("mkfs: zeroing block %d: %w", i, err)
		}
	}

	sbBuf := sb.Marshal()
	if err := dev.WriteBlock(superblock.BlockIndex, pad(sbBuf)); err != nil {
		return fmt.Errorf("mkfs: writing superblock: %w", err)
	}

	logBodyLen := int(opts.NLog) - 1
	hdr := wal.Header{N: 0, Dst: make([]uint32, logBodyLen)}
	if err := dev.WriteBlock(sb.LogStart, pad(hdr.Marshal())); err != nil {
		return fmt.Errorf("mkfs: writing log header: %w", err)
	}

	if err := markMetadataUsed(dev, sb, dataStart); err != nil {
		return fmt.Errorf("mkfs: marking metadata blocks used: %w", err)
	}

	rootDataBlock := dataStart
	if err := markBitUsed(dev, sb, rootDataBlock); err != nil {
		return fmt.Errorf("mkfs: allocating root directory block: %w", err)
	}
	if err := writeRootDirBlock(dev, rootDataBlock); err != nil {
		return fmt.Errorf("mkfs: writing root directory entries: %w", err)
	}

	if err := writeRootInode(dev, sb, rootDataBlock); err != nil {
		return fmt.Errorf("mkfs: writing root inode: %w", err)
	}

	return nil
}

// writeRootDirBlock writes root's "." and ".." entries, both pointing
// at RootIno, into blockIdx.
func writeRootDirBlock(dev blockdev.Device, blockIdx uint32) error {
	buf := make([]byte, blockdev.BlockSize)
	dot, err := (dirfs.DirEntry{Inum: inode.RootIno, Name: "."}).Marshal()
	if err != nil {
		return err
	}
	dotdot, err := (dirfs.DirEntry{Inum: inode.RootIno, Name: ".."}).Marshal()
	if err != nil {
		return err
	}
	copy(buf[0:dirfs.EntrySize], dot)
	copy(buf[dirfs.EntrySize:2*dirfs.EntrySize], dotdot)
	return dev.WriteBlock(blockIdx, buf)
}

func pad(b []byte) []byte {
	if len(b) >= blockdev.BlockSize {
		return b[:blockdev.BlockSize]
	}
	out := make([]byte, blockdev.BlockSize)
	copy(out, b)
	return out
}

func writeRootInode(dev blockdev.Device, sb superblock.Superblock, dataBlock uint32) error {
	root := inode.DiskInode{FType: inode.FTypeDir, NLink: 1, Size: uint32(2 * dirfs.EntrySize)}
	root.Addrs[0] = dataBlock

	diskInodeSize := blockdev.BlockSize / inode.IPB
	blockIdx := sb.InodeStart + (inode.RootIno-1)/inode.IPB
	offset := int((inode.RootIno-1)%inode.IPB) * diskInodeSize

	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(blockIdx, buf); err != nil {
		return err
	}
	copy(buf[offset:offset+diskInodeSize], root.Marshal())
	return dev.WriteBlock(blockIdx, buf)
}

// markMetadataUsed sets every bitmap bit covering block 0 through
// dataStart-1 (boot, superblock, log, inodes, bitmap itself), so the
// allocator never hands one of those blocks out as a data block.
func markMetadataUsed(dev blockdev.Device, sb superblock.Superblock, dataStart uint32) error {
	for b := uint32(0); b < dataStart; b++ {
		if err := markBitUsed(dev, sb, b); err != nil {
			return err
		}
	}
	return nil
}

func markBitUsed(dev blockdev.Device, sb superblock.Superblock, b uint32) error {
	bmapBlockIdx := sb.BmapStart + b/superblock.BPB
	bit := b % superblock.BPB

	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(bmapBlockIdx, buf); err != nil {
		return err
	}
	buf[bit/8] |= 1 << (bit % 8)
	return dev.WriteBlock(bmapBlockIdx, buf)
}

// WriteFile builds a fresh image entirely in memory and materializes it
// atomically at path: a reader never observes a half-written image file.
func WriteFile(path string, opts Options) error {
	mem := blockdev.NewMemDevice(opts.NBlocks)
	if err := Write(mem, opts); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkfs: preparing %s: %w", path, err)
	}
	return renameio.WriteFile(path, mem.Snapshot(), 0o644)
}
