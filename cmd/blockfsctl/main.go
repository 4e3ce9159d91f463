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

// blockfsctl is a thin CLI wrapper around internal/mkfs and
// internal/fsctx, for building and inspecting a block-device
// filesystem image by hand.
package main

import (
	"fmt"
	"os"

	"github.com/blockfs-go/blockfs/internal/fserrors"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*fserrors.FatalError); ok {
				fmt.Fprintln(os.Stderr, "blockfsctl:", fe)
				os.Exit(2)
			}
			panic(r)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
