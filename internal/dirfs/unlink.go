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
	"fmt"
	"path"
	"strings"

	"github.com/blockfs-go/blockfs/internal/inode"
)

// Unlink resolves p's parent directory, clears its entry for p's final
// component, and decrements the target inode's nlink. On-disk freeing
// of the target happens via the inode table's last-reference semantics
// when its handle is finally released. Must run inside a transaction.
func (d *Dir) Unlink(p string) error {
	dir, name := path.Split(strings.TrimSuffix(p, "/"))
	if name == "" {
		return fmt.Errorf("dirfs: unlink %q: empty name", p)
	}
	if dir == "" {
		dir = "/"
	}

	parent, err := d.Resolve(dir, false)
	if err != nil {
		return fmt.Errorf("dirfs: unlink %q: %w", p, err)
	}
	defer d.Table.Release(parent, d.Log)

	child, _, err := d.Lookup(parent, name)
	if err != nil {
		return fmt.Errorf("dirfs: unlink %q: %w", p, err)
	}
	defer d.Table.Release(child, d.Log)

	if err := d.unlinkEntry(parent, name); err != nil {
		return fmt.Errorf("dirfs: unlink %q: %w", p, err)
	}
	return d.Table.ModifyDiskInode(child, d.Log, func(dn *inode.DiskInode) {
		if dn.NLink > 0 {
			dn.NLink--
		}
	})
}
