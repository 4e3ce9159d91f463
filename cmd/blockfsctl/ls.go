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

package main

import (
	"fmt"
	"os"

	"github.com/blockfs-go/blockfs/internal/blockdev"
	"github.com/blockfs-go/blockfs/internal/fsctx"
	"github.com/blockfs-go/blockfs/internal/inode"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls <image-path> [dir-path]",
	Short: "List a directory's entries in an image",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}

		dev, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer dev.Close()

		fs, err := fsctx.Mount(dev, cfg)
		if err != nil {
			return fmt.Errorf("ls: %w", err)
		}
		defer fs.Close()

		h, err := fs.Open(path)
		if err != nil {
			return fmt.Errorf("ls: %w", err)
		}
		defer fs.Release(h)

		entries, err := fs.Dir.ReadDir(h)
		if err != nil {
			return fmt.Errorf("ls: %w", err)
		}

		for _, e := range entries {
			child, err := fs.Table.Get(e.Inum)
			if err != nil {
				return fmt.Errorf("ls: %w", err)
			}
			st, err := fs.Stat(child)
			fs.Release(child)
			if err != nil {
				return fmt.Errorf("ls: %w", err)
			}
			fmt.Printf("%-6s %8d  %s\n", typeLabel(st.FType), st.Size, e.Name)
		}
		return nil
	},
}

func typeLabel(t inode.FType) string {
	switch t {
	case inode.FTypeDir:
		return "dir"
	case inode.FTypeFile:
		return "file"
	default:
		return "free"
	}
}

func openImage(path string) (*blockdev.FileDevice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	nblks := uint32(info.Size() / blockdev.BlockSize)
	return blockdev.OpenFileDevice(path, nblks)
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
