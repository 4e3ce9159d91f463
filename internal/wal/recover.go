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

package wal

import (
	"fmt"

	"github.com/blockfs-go/blockfs/internal/fserrors"
	"github.com/blockfs-go/blockfs/internal/logger"
)

// Recover runs the mount-time recovery procedure: if the on-disk
// header's n is zero there is nothing to do, otherwise the logged
// blocks are installed to their home locations (idempotently — running
// this twice in a row is a no-op the second time) and the header is
// cleared.
func (l *Log) Recover() error {
	h, err := l.cache.Get(l.logStart)
	if err != nil {
		return fmt.Errorf("wal: recover: reading header: %w", err)
	}
	var raw []byte
	readErr := l.cache.ReadAs(h, 0, 4+4*l.bodyLen, func(b []byte) {
		raw = append([]byte(nil), b...)
	})
	l.cache.Release(h)
	if readErr != nil {
		return fmt.Errorf("wal: recover: %w", readErr)
	}

	hdr := UnmarshalHeader(raw, l.bodyLen)
	if hdr.N == 0 {
		logger.Infof("wal: recover: no pending transaction")
		return nil
	}
	if int(hdr.N) > l.bodyLen {
		fserrors.InvariantViolation("wal: recover: header n=%d exceeds log body length %d", hdr.N, l.bodyLen)
	}

	logger.Infof("wal: recover: installing %d logged blocks", hdr.N)
	for i := 0; i < int(hdr.N); i++ {
		l.copyBlock(l.logStart+1+uint32(i), hdr.Dst[i])
	}
	l.writeHeader(0, nil)
	return nil
}
