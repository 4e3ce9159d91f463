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

package blockdev

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device. It backs fast unit tests and, via
// InjectCrashAfter, crash-atomicity tests: dropping every write after some
// number of bytes have been issued to the device, so recovery can be
// exercised deterministically against a torn write stream.
type MemDevice struct {
	mu    sync.Mutex
	img   []byte
	nblks uint32

	// crashBudget, when >= 0, is the number of bytes of writes still
	// permitted before every subsequent WriteBlock silently no-ops (as
	// if power had been lost mid-write). -1 means unlimited.
	crashBudget int64
}

// NewMemDevice creates a zeroed in-memory device with nblks blocks.
func NewMemDevice(nblks uint32) *MemDevice {
	return &MemDevice{
		img:         make([]byte, int(nblks)*BlockSize),
		nblks:       nblks,
		crashBudget: -1,
	}
}

func (d *MemDevice) ReadBlock(idx uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("ReadBlock: buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx >= d.nblks {
		return fmt.Errorf("ReadBlock: index %d out of range (nblks=%d)", idx, d.nblks)
	}
	off := int(idx) * BlockSize
	copy(buf, d.img[off:off+BlockSize])
	return nil
}

func (d *MemDevice) WriteBlock(idx uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("WriteBlock: buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx >= d.nblks {
		return fmt.Errorf("WriteBlock: index %d out of range (nblks=%d)", idx, d.nblks)
	}

	if d.crashBudget >= 0 {
		n := int64(BlockSize)
		if d.crashBudget <= 0 {
			// Out of budget: the "crash" has already happened; silently
			// drop the write, exactly as a lost-power disk would.
			return nil
		}
		if d.crashBudget < n {
			n = d.crashBudget
		}
		d.crashBudget -= n
		off := int(idx) * BlockSize
		copy(d.img[off:off+int(n)], buf[:n])
		return nil
	}

	off := int(idx) * BlockSize
	copy(d.img[off:off+BlockSize], buf)
	return nil
}

func (d *MemDevice) NumBlocks() uint32 { return d.nblks }

// InjectCrashAfter configures the device to accept only n more bytes of
// write traffic in total before every subsequent WriteBlock becomes a
// silent no-op, simulating a power loss at that exact byte offset in the
// write stream.
func (d *MemDevice) InjectCrashAfter(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crashBudget = n
}

// Snapshot returns a copy of the full raw image, for test assertions.
func (d *MemDevice) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.img))
	copy(out, d.img)
	return out
}
