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
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Option provides an interface to do work on a Table while it is being
// created.
type Option interface {
	apply(t *Table)
}

type optionFunc func(t *Table)

func (f optionFunc) apply(t *Table) {
	f(t)
}

// WithHash is an option to specify the hash function to use for a Table. The
// function must be deterministic for a given (key, seed) pair. The per-level
// probe sequences are derived from its result, so a poor hash function
// degrades every operation towards a linear scan of the levels.
func WithHash(hash func(key []byte, seed uint64) uint64) Option {
	return optionFunc(func(t *Table) {
		t.hash = hash
	})
}

// WithSeed is an option to fix the seed passed to the hash function. By
// default every Table draws a random seed.
func WithSeed(seed uint64) Option {
	return optionFunc(func(t *Table) {
		t.seed = seed
	})
}

// WithMaxLoad is an option to specify the load factor which, if exceeded by
// an insertion of a new key, causes the table to double its capacity. Must be
// in the range (0, 1).
func WithMaxLoad(maxLoad float64) Option {
	return optionFunc(func(t *Table) {
		t.maxLoad = maxLoad
	})
}

// WithTombstoneRatio is an option to specify the fraction of the capacity
// that may be occupied by tombstones before the table is rebuilt in place.
// Must be in the range (0, 1].
func WithTombstoneRatio(ratio float64) Option {
	return optionFunc(func(t *Table) {
		t.tombstoneRatio = ratio
	})
}

// WithMinLevelCapacity is an option to specify the smallest capacity a level
// may be built with. Smaller values yield more levels for a given capacity.
func WithMinLevelCapacity(n int) Option {
	return optionFunc(func(t *Table) {
		t.minLevelCapacity = n
	})
}

// WithLogger is an option to specify the logger that resize, compaction, and
// placement events are reported to. By default events are discarded.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(t *Table) {
		t.logger = logger
	})
}

// WithAllocator is an option to specify the Allocator to use for a Table.
func WithAllocator(allocator Allocator) Option {
	return optionFunc(func(t *Table) {
		t.allocator = allocator
	})
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays backing the levels of a Table. The default allocator utilizes Go's
// builtin make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Table.Close must be called in order to ensure FreeSlots is
// called for the final hierarchy.
type Allocator interface {
	// AllocSlots should return a slice equivalent to make([]Slot, n), or an
	// error if the memory could not be obtained.
	AllocSlots(n int) ([]Slot, error)

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot)
}

// maxSlots bounds the size of any single allocation.
const maxSlots = 1 << 30

type defaultAllocator struct{}

func (defaultAllocator) AllocSlots(n int) ([]Slot, error) {
	if n < 0 || n > maxSlots {
		return nil, errors.Newf("cannot allocate %d slots", n)
	}
	return make([]Slot, n), nil
}

func (defaultAllocator) FreeSlots(v []Slot) {
}

// validate reports the first option that is out of range.
func (t *Table) validate() error {
	switch {
	case t.hash == nil:
		return errors.New("elastic: hash function must not be nil")
	case t.allocator == nil:
		return errors.New("elastic: allocator must not be nil")
	case t.logger == nil:
		return errors.New("elastic: logger must not be nil")
	case !(t.maxLoad > 0 && t.maxLoad < 1):
		return errors.Newf("elastic: max load %v outside (0, 1)", t.maxLoad)
	case !(t.tombstoneRatio > 0 && t.tombstoneRatio <= 1):
		return errors.Newf("elastic: tombstone ratio %v outside (0, 1]", t.tombstoneRatio)
	case t.minLevelCapacity < 1:
		return errors.Newf("elastic: min level capacity %d must be positive", t.minLevelCapacity)
	}
	return nil
}
