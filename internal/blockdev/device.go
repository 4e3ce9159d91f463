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

// Package blockdev defines the block device interface the filesystem
// core consumes and two implementations: a real-file device and an
// in-memory device. Neither implementation is part of the core's
// concurrency or crash-consistency story — they are the narrow external
// collaborator the core depends on, included here so the core is
// actually runnable and testable.
package blockdev

// BlockSize is the fixed size, in bytes, of every block.
const BlockSize = 512

// Device is the synchronous, block-indexed read/write interface the
// filesystem core depends on. Implementations must be safe for
// concurrent use by multiple goroutines and must serialize internally;
// the core never assumes exclusivity over a Device.
type Device interface {
	// ReadBlock reads exactly BlockSize bytes for block index idx into
	// buf, which must have length BlockSize.
	ReadBlock(idx uint32, buf []byte) error

	// WriteBlock writes exactly BlockSize bytes from buf to block index
	// idx, which must have length BlockSize.
	WriteBlock(idx uint32, buf []byte) error

	// NumBlocks returns the total number of addressable blocks.
	NumBlocks() uint32
}
