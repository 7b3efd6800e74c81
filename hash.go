// Copyright 2024 The Cockroach Authors
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

package elastic

import (
	"encoding/binary"
	"hash/maphash"
	"unsafe"

	"github.com/zhangyunhao116/fastrand"
)

type hashFn func(key []byte, seed uint64) uint64

// hashSeed is fixed for the life of the process. Per-table variation comes
// from the seed mixed into every hash.
var hashSeed = maphash.MakeSeed()

// defaultHash hashes key using the runtime's AES-based hash (via
// hash/maphash). Results are stable within a process but not across
// processes; use WithHash(FNV1a) for reproducible layouts.
func defaultHash(key []byte, seed uint64) uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	_, _ = h.Write(buf[:])
	_, _ = h.Write(key)
	return h.Sum64()
}

const (
	fnvOffset64 = 0xcbf29ce484222325
	fnvPrime64  = 0x100000001b3
)

// FNV1a is a 64-bit FNV-1a hash whose offset basis is salted with seed. It is
// slower than the default hash but deterministic across processes and
// platforms, which makes table layouts reproducible when combined with
// WithSeed.
func FNV1a(key []byte, seed uint64) uint64 {
	h := uint64(fnvOffset64) ^ seed
	for _, c := range key {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

func randomSeed() uint64 {
	return fastrand.Uint64()
}

// unsafeBytes returns the bytes backing s without copying. The result must
// not be modified.
func unsafeBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
