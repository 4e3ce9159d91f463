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

package superblock

import (
	"fmt"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/bufcache"
	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/wal"
)

// BPB is the number of bits a single bitmap block can represent: one bit
// per block in the image, LSB first within each byte.
const BPB = blockdev.BlockSize * 8

// bitmapBlockFor returns the bitmap block index and the bit index within
// it for image block b.
func bitmapBlockFor(sb Superblock, b uint32) (blockIdx uint32, bitIdx uint32) {
	return sb.BmapStart + b/BPB, b % BPB
}

func testBit(data []byte, bit uint32) bool {
	return data[bit/8]&(1<<(bit%8)) != 0
}

func setBit(data []byte, bit uint32) {
	data[bit/8] |= 1 << (bit % 8)
}

func clearBit(data []byte, bit uint32) {
	data[bit/8] &^= 1 << (bit % 8)
}

// Balloc scans the bitmap blocks in order, finds the first clear bit,
// sets it, and logs both the bitmap block and a zeroed copy of the
// newly allocated block so a post-commit reader sees zeros rather than
// residue from a previous tenant. Must be called inside a transaction.
// Returns false if every block in the image is in use.
func Balloc(cache *bufcache.Cache, log *wal.Log, sb Superblock) (uint32, bool, error) {
	for b := uint32(0); b < sb.Size; b += BPB {
		bmapBlockIdx := sb.BmapStart + b/BPB

		h, err := cache.Get(bmapBlockIdx)
		if err != nil {
			return 0, false, fmt.Errorf("superblock: balloc: %w", err)
		}

		limit := BPB
		if b+BPB > sb.Size {
			limit = int(sb.Size - b)
		}

		found := false
		var foundBit uint32
		var writeErr error
		_ = cache.WriteAs(h, 0, blockdev.BlockSize, func(data []byte) {
			for bit := 0; bit < limit; bit++ {
				if !testBit(data, uint32(bit)) {
					setBit(data, uint32(bit))
					found = true
					foundBit = uint32(bit)
					break
				}
			}
		})
		if !found {
			cache.Release(h)
			if writeErr != nil {
				return 0, false, writeErr
			}
			continue
		}

		log.LogWrite(h, bmapBlockIdx)
		cache.Release(h)

		blockIdx := b + foundBit

		zh, err := cache.Get(blockIdx)
		if err != nil {
			return 0, false, fmt.Errorf("superblock: balloc: zeroing %d: %w", blockIdx, err)
		}
		_ = cache.WriteAs(zh, 0, blockdev.BlockSize, func(data []byte) {
			for i := range data {
				data[i] = 0
			}
		})
		log.LogWrite(zh, blockIdx)
		cache.Release(zh)

		return blockIdx, true, nil
	}
	return 0, false, nil
}

// Bfree clears the bit for block b in its bitmap block and logs the
// bitmap block. Must be called inside a transaction.
func Bfree(cache *bufcache.Cache, log *wal.Log, sb Superblock, b uint32) error {
	bmapBlockIdx, bit := bitmapBlockFor(sb, b)

	h, err := cache.Get(bmapBlockIdx)
	if err != nil {
		return fmt.Errorf("superblock: bfree: %w", err)
	}
	defer cache.Release(h)

	var alreadyFree bool
	_ = cache.WriteAs(h, 0, blockdev.BlockSize, func(data []byte) {
		if !testBit(data, bit) {
			alreadyFree = true
			return
		}
		clearBit(data, bit)
	})
	if alreadyFree {
		fserrors.InvariantViolation("superblock: bfree: double free of block %d", b)
	}

	log.LogWrite(h, bmapBlockIdx)
	return nil
}
