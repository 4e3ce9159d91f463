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
	"strings"

	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/inode"
)

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("dirfs: resolve %q: path must be absolute", path)
	}
	var parts []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return parts, nil
}

// Resolve walks path, an absolute path, component by component starting
// from the filesystem root. If wantParent is true it returns the parent
// directory of the final component (and the final component's own
// lookup is not attempted); otherwise it returns the final component's
// own inode. Intermediate directory handles are released as traversal
// advances past them; callers should run Resolve inside a transaction,
// since releasing a handle can in rare cases be the one that drops an
// inode's last reference and triggers an on-disk free.
func (d *Dir) Resolve(path string, wantParent bool) (inode.Handle, error) {
	parts, err := splitPath(path)
	if err != nil {
		return inode.Handle{}, err
	}

	cur, err := d.Table.Get(inode.RootIno)
	if err != nil {
		return inode.Handle{}, err
	}

	if len(parts) == 0 {
		return cur, nil
	}

	stop := len(parts)
	if wantParent {
		stop--
	}

	for i := 0; i < stop; i++ {
		dn, err := d.Table.ReadDiskInode(cur)
		if err != nil {
			return inode.Handle{}, err
		}
		if dn.FType != inode.FTypeDir {
			return inode.Handle{}, fmt.Errorf("dirfs: resolve %q: %w", path, fserrors.ErrNotADirectory)
		}

		next, _, err := d.Lookup(cur, parts[i])
		if err != nil {
			_ = d.Table.Release(cur, d.Log)
			return inode.Handle{}, fmt.Errorf("dirfs: resolve %q: %w", path, err)
		}
		_ = d.Table.Release(cur, d.Log)
		cur = next
	}

	return cur, nil
}
