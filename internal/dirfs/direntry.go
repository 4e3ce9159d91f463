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

// Package dirfs implements directories as regular inodes whose data is a
// flat array of fixed-width DirEntry records, plus absolute path
// resolution and the create/unlink operations built on it.
package dirfs

import (
	"encoding/binary"
	"fmt"

	"github.com/blockfs-go/blockfs/internal/fserrors"
	"golang.org/x/text/unicode/norm"
)

// NameSize is the fixed width, in bytes, of a DirEntry's name field.
const NameSize = 28

// EntrySize is the packed size of one DirEntry: chosen so it divides
// the block size (16 entries per 512-byte block).
const EntrySize = 4 + NameSize

// DirEntry is one fixed-width directory record. Inum == 0 marks a free
// (unused or unlinked) slot.
type DirEntry struct {
	Inum uint32
	Name string
}

// Marshal packs e into its on-disk form: a little-endian inum followed
// by the NFC-normalized name, zero-padded to NameSize bytes.
func (e DirEntry) Marshal() ([]byte, error) {
	normalized := norm.NFC.String(e.Name)
	if len(normalized) >= NameSize {
		return nil, fmt.Errorf("dirfs: name %q exceeds %d bytes after normalization: %w", e.Name, NameSize-1, fserrors.ErrNameTooLong)
	}
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.Inum)
	copy(buf[4:], normalized)
	return buf, nil
}

// UnmarshalDirEntry reads a DirEntry out of raw, which must be exactly
// EntrySize bytes.
func UnmarshalDirEntry(raw []byte) DirEntry {
	inum := binary.LittleEndian.Uint32(raw[0:4])
	nameBytes := raw[4:EntrySize]
	end := len(nameBytes)
	for end > 0 && nameBytes[end-1] == 0 {
		end--
	}
	return DirEntry{Inum: inum, Name: string(nameBytes[:end])}
}
