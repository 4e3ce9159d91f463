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

import "encoding/binary"

// Header is the on-disk LogHeader block: a count n followed by n (or,
// for the fixed-width on-disk form, bodyLen) destination block indices.
// n == 0 on disk means no committed pending transaction.
type Header struct {
	N   uint32
	Dst []uint32
}

// Marshal packs h into its on-disk little-endian byte-exact form.
func (h Header) Marshal() []byte {
	buf := make([]byte, 4+4*len(h.Dst))
	binary.LittleEndian.PutUint32(buf[0:4], h.N)
	for i, v := range h.Dst {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], v)
	}
	return buf
}

// UnmarshalHeader reads a Header out of raw, which must be at least
// 4+4*bodyLen bytes.
func UnmarshalHeader(raw []byte, bodyLen int) Header {
	h := Header{
		N:   binary.LittleEndian.Uint32(raw[0:4]),
		Dst: make([]uint32, bodyLen),
	}
	for i := 0; i < bodyLen; i++ {
		h.Dst[i] = binary.LittleEndian.Uint32(raw[4+4*i : 8+4*i])
	}
	return h
}
