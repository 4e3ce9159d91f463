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

	"github.com/blockfs-go/blockfs/internal/mkfs"
	"github.com/spf13/cobra"
)

var (
	mkfsBlocks uint32
	mkfsInodes uint32
	mkfsLog    uint32
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <image-path>",
	Short: "Lay out a fresh filesystem image at the given path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		opts := mkfs.DefaultOptions(mkfsBlocks)
		if mkfsInodes > 0 {
			opts.NInodes = mkfsInodes
		}
		if mkfsLog > 0 {
			opts.NLog = mkfsLog
		}
		if err := mkfs.WriteFile(args[0], opts); err != nil {
			return fmt.Errorf("mkfs: %w", err)
		}
		fmt.Printf("wrote %d-block image to %s\n", opts.NBlocks, args[0])
		return nil
	},
}

func init() {
	mkfsCmd.Flags().Uint32Var(&mkfsBlocks, "blocks", 65536, "total image size, in blocks")
	mkfsCmd.Flags().Uint32Var(&mkfsInodes, "inodes", 0, "number of inode slots (0: use the default for --blocks)")
	mkfsCmd.Flags().Uint32Var(&mkfsLog, "log-blocks", 0, "log length in blocks, including the header (0: use the default)")
	rootCmd.AddCommand(mkfsCmd)
}
