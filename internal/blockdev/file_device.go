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
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FileDevice is a Device backed by a regular file. It issues pread(2)
// and pwrite(2) directly through golang.org/x/sys/unix rather than
// os.File.ReadAt/WriteAt, and WriteBlock ends with a real fsync(2) — the
// "force to device" step the write-ahead log's commit protocol depends
// on for crash safety.
type FileDevice struct {
	mu    sync.Mutex
	f     *os.File
	nblks uint32
}

// OpenFileDevice opens (without creating) the image file at path and
// wraps it as a Device with the given block count.
func OpenFileDevice(path string, nblks uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening block device image %q: %w", path, err)
	}
	return &FileDevice{f: f, nblks: nblks}, nil
}

func (d *FileDevice) ReadBlock(idx uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("ReadBlock: buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int64(idx) * BlockSize
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return fmt.Errorf("pread block %d: %w", idx, err)
	}
	if n != BlockSize {
		return fmt.Errorf("pread block %d: short read %d/%d bytes", idx, n, BlockSize)
	}
	return nil
}

func (d *FileDevice) WriteBlock(idx uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("WriteBlock: buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int64(idx) * BlockSize
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return fmt.Errorf("pwrite block %d: %w", idx, err)
	}
	if n != BlockSize {
		return fmt.Errorf("pwrite block %d: short write %d/%d bytes", idx, n, BlockSize)
	}
	return unix.Fsync(int(d.f.Fd()))
}

func (d *FileDevice) NumBlocks() uint32 { return d.nblks }

// Close closes the underlying file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
