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

// Package elastic is a Go implementation of elastic hashing as described in
// "Optimal Bounds for Open Addressing Without Reordering" (Farach-Colton,
// Krapivin, Kuszmaul, 2025): https://arxiv.org/abs/2501.02305.
//
// # Elastic Hashing
//
// An elastic hash table is an open-addressed hash table whose slots are
// partitioned into a sequence of levels of geometrically decreasing size.
// Every level is an independent open-addressed array with its own probe
// sequence, derived from the key's hash salted with the level index.
//
// An insertion visits the levels in order, largest first. Within a level it
// may examine only a bounded number of slots, the level's probe budget, before
// it gives up and falls through to the next level. The budget grows as
// O(log^2(1/eps)) where eps is the fraction of the level that is still free,
// so a lightly loaded level accepts keys after a probe or two while a level
// nearing saturation is searched harder before a key overflows to the sparser
// levels that follow. Every level but the last also keeps a reserve of empty
// slots, half the free space the max load guarantees, which bounds both the
// budget and the length of a lookup miss. Amortized over the hierarchy this
// keeps the expected probe count close to constant even at load factors
// approaching 1, and the first level is always at least as loaded as the last
// one.
//
// Lookups walk the full probe sequence of each level until they find the key
// or an empty slot, then move on to the next level. Deletion leaves a
// tombstone which does not terminate lookups and which later insertions may
// reuse.
//
// # Implementation
//
// Keys are byte strings and values are opaque byte slices; both are copied
// into the table. When an insertion of a new key would push the load factor
// past the configured maximum (0.9 by default) the entire hierarchy is
// rebuilt at twice the capacity. When tombstones accumulate past a fraction
// of the capacity (0.15 by default) the hierarchy is rebuilt at the same
// capacity, dropping the tombstones. Rebuilds are the only operations that
// move entries between slots.
package elastic

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	debug = false

	// minCapacity is the smallest total capacity a table is built with.
	minCapacity = 64

	defaultMaxLoad          = 0.90
	defaultTombstoneRatio   = 0.15
	defaultMinLevelCapacity = 16

	// growthFactor is the multiplier applied to the capacity when the table
	// saturates.
	growthFactor = 2
)

// Table is a map from byte string keys to byte string values with Put, Get,
// Delete, and All operations, implemented as an elastic hash table.
//
// A Table is NOT goroutine-safe. Values returned by Get and by iteration
// alias the table's storage and are only valid until the next mutating call.
type Table struct {
	hash      hashFn
	seed      uint64
	allocator Allocator
	logger    *slog.Logger

	maxLoad          float64
	tombstoneRatio   float64
	minLevelCapacity int
	// reserve is the fraction of every level but the last that is kept
	// empty. It is half the free space the max load guarantees.
	reserve float64

	// levels is the level hierarchy, ordered from the largest level to the
	// smallest.
	levels []level
	// The sum of the capacities of the levels.
	capacity int
	// The number of live entries across all levels.
	used int

	resizes     int
	compactions int
	closed      bool
}

// New constructs a new Table with room for the specified number of slots. The
// capacity is raised to a minimum of 64. An error is returned if an option is
// out of range or the slots could not be allocated.
func New(capacity int, options ...Option) (*Table, error) {
	t := &Table{
		hash:             defaultHash,
		seed:             randomSeed(),
		allocator:        defaultAllocator{},
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxLoad:          defaultMaxLoad,
		tombstoneRatio:   defaultTombstoneRatio,
		minLevelCapacity: defaultMinLevelCapacity,
	}

	for _, op := range options {
		op.apply(t)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	t.reserve = (1 - t.maxLoad) / 2

	capacity = max(capacity, minCapacity)
	levels, err := t.buildLevels(capacity)
	if err != nil {
		return nil, err
	}
	t.levels = levels
	t.capacity = capacity

	t.checkInvariants()
	return t, nil
}

// Close releases the table's slot arrays back to its allocator. It is
// unnecessary to close a table using the default allocator. Close may be
// called on a nil Table and is idempotent; all other methods are invalid
// after Close, with mutations returning ErrClosed.
func (t *Table) Close() {
	if t == nil || t.closed {
		return
	}
	t.freeLevels(t.levels)
	t.levels = nil
	t.capacity = 0
	t.used = 0
	t.closed = true
}

// Put inserts an entry into the table, overwriting the value of an existing
// entry with the same key. The key and value are copied.
func (t *Table) Put(key, value []byte) error {
	if t.closed {
		return ErrClosed
	}
	h := t.hash(key, t.seed)

	// Update in place if the key is present in any level. Placement below
	// only looks at a prefix of each level's probe sequence and could
	// otherwise insert a duplicate into an earlier level.
	if li, i, ok := t.find(key, h); ok {
		if debug {
			fmt.Printf("put(%q): updating level=%d index=%d\n", key, li, i)
		}
		t.levels[li].slots[i].value = bytes.Clone(value)
		return nil
	}

	if err := t.maybeRebuild(); err != nil {
		return err
	}

	if err := t.insert(string(key), bytes.Clone(value), h); err != nil {
		return err
	}
	t.used++
	t.checkInvariants()
	return nil
}

// Get retrieves the value for the specified key, returning ok=false if the
// key is not present. The returned slice must not be modified and is only
// valid until the next mutating call on the table.
func (t *Table) Get(key []byte) (value []byte, ok bool) {
	h := t.hash(key, t.seed)
	li, i, ok := t.find(key, h)
	if !ok {
		return nil, false
	}
	return t.levels[li].slots[i].value, true
}

// Contains returns true if the key is present in the table.
func (t *Table) Contains(key []byte) bool {
	_, ok := t.Get(key)
	return ok
}

// Delete deletes the entry corresponding to the specified key, leaving a
// tombstone in its slot. Returns false if the key was not present, which is
// not an error.
func (t *Table) Delete(key []byte) bool {
	h := t.hash(key, t.seed)
	li, i, ok := t.find(key, h)
	if !ok {
		return false
	}
	t.levels[li].remove(i)
	t.used--
	if debug {
		fmt.Printf("delete(%q): level=%d index=%d used=%d\n", key, li, i, t.used)
	}
	t.checkInvariants()
	return true
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return t.used
}

// Capacity returns the total number of slots across all levels.
func (t *Table) Capacity() int {
	return t.capacity
}

// NumLevels returns the number of levels in the hierarchy.
func (t *Table) NumLevels() int {
	return len(t.levels)
}

// Tombstones returns the number of tombstone slots across all levels.
func (t *Table) Tombstones() int {
	var n int
	for i := range t.levels {
		n += t.levels[i].tombstones
	}
	return n
}

// LoadFactor returns Len()/Capacity().
func (t *Table) LoadFactor() float64 {
	if t.capacity == 0 {
		return 0
	}
	return float64(t.used) / float64(t.capacity)
}

// find locates key across the hierarchy, returning the level and slot
// holding it.
func (t *Table) find(key []byte, h uint64) (li, i int, ok bool) {
	for li := range t.levels {
		l := &t.levels[li]
		if l.live == 0 {
			continue
		}
		if i, ok := l.findForLookup(key, h); ok {
			return li, i, true
		}
	}
	return -1, -1, false
}

// insert places a key known not to be present. If no level has room outside
// its reserve, a table that is at least half way to its max load grows;
// otherwise, or if growing did not help, the key is placed by
// placeOverflow.
func (t *Table) insert(key string, value []byte, h uint64) error {
	if _, ok := place(t.levels, key, value, h, t.reserve); ok {
		return nil
	}
	if t.LoadFactor() >= t.maxLoad/2 {
		if err := t.rebuild(t.capacity*growthFactor, "overflow"); err != nil {
			return err
		}
		if _, ok := place(t.levels, key, value, h, t.reserve); ok {
			return nil
		}
	}
	if _, err := placeOverflow(t.levels, key, value, h); err != nil {
		t.logger.Warn("elastic: placement failed",
			"capacity", t.capacity,
			"len", t.used,
			"levels", len(t.levels),
			"error", err)
		return err
	}
	return nil
}

// place inserts a key known not to be present into the first level that has
// a reusable slot within its probe budget. Returns the index of the level the
// key was placed in, or ok=false if no level accepted it.
//
// A level whose empty slots have shrunk to its reserve only accepts keys into
// tombstones. The last level has no reserve and is searched in full.
func place(levels []level, key string, value []byte, h uint64, reserve float64) (int, bool) {
	last := len(levels) - 1
	for li := range levels {
		l := &levels[li]
		budget := l.probeBudget(reserve)
		takeEmpty := l.empty() > l.reserveSlots(reserve)
		if li == last {
			budget, takeEmpty = l.capacity, true
		}
		if !takeEmpty && l.tombstones == 0 {
			continue
		}
		if i, ok := l.findForInsert(key, h, budget, takeEmpty); ok {
			l.put(i, key, value)
			return li, true
		}
		if debug {
			fmt.Printf("place(%q): level=%d exhausted budget=%d\n", key, li, budget)
		}
	}
	return -1, false
}

// placeOverflow inserts a key known not to be present into the smallest level
// with a reusable slot, searching it in full and ignoring its reserve. It only
// fails if every slot of the hierarchy is live.
func placeOverflow(levels []level, key string, value []byte, h uint64) (int, error) {
	for li := len(levels) - 1; li >= 0; li-- {
		l := &levels[li]
		if l.live == l.capacity {
			continue
		}
		if i, ok := l.findForInsert(key, h, l.capacity, true); ok {
			l.put(i, key, value)
			return li, nil
		}
	}
	var capacity, used int
	for i := range levels {
		capacity += levels[i].capacity
		used += levels[i].live
	}
	return -1, placementError(len(levels), capacity, used)
}

// maybeRebuild grows the table if inserting one more entry would exceed the
// max load, or compacts it in place if tombstones have accumulated past the
// tombstone ratio.
func (t *Table) maybeRebuild() error {
	if newCapacity := t.capacity; float64(t.used+1) > t.maxLoad*float64(newCapacity) {
		for float64(t.used+1) > t.maxLoad*float64(newCapacity) {
			newCapacity *= growthFactor
		}
		return t.rebuild(newCapacity, "grow")
	}
	if tombstones := t.Tombstones(); float64(tombstones) >= t.tombstoneRatio*float64(t.capacity) {
		return t.rebuild(t.capacity, "compact")
	}
	return nil
}

// rebuild constructs a fresh hierarchy with the specified capacity and
// re-inserts every live entry into it using the ordinary placement algorithm.
// Tombstones are not carried over. The new hierarchy is only installed once
// every entry has been placed; on failure the table is left untouched.
func (t *Table) rebuild(newCapacity int, reason string) error {
	levels, err := t.buildLevels(newCapacity)
	if err != nil {
		t.logger.Warn("elastic: rebuild failed",
			"reason", reason,
			"capacity", t.capacity,
			"new-capacity", newCapacity,
			"error", err)
		return err
	}

	for li := range t.levels {
		l := &t.levels[li]
		for i, ok := l.occupied.NextSet(0); ok; i, ok = l.occupied.NextSet(i + 1) {
			s := &l.slots[i]
			h := t.hash(unsafeBytes(s.key), t.seed)
			if _, ok := place(levels, s.key, s.value, h, t.reserve); ok {
				continue
			}
			if _, err := placeOverflow(levels, s.key, s.value, h); err != nil {
				t.freeLevels(levels)
				t.logger.Warn("elastic: rebuild failed",
					"reason", reason,
					"capacity", t.capacity,
					"new-capacity", newCapacity,
					"error", err)
				return err
			}
		}
	}

	oldCapacity, oldLevels := t.capacity, len(t.levels)
	t.freeLevels(t.levels)
	t.levels = levels
	t.capacity = newCapacity
	if newCapacity > oldCapacity {
		t.resizes++
	} else {
		t.compactions++
	}

	t.logger.Debug("elastic: rebuilt hierarchy",
		"reason", reason,
		"len", t.used,
		"capacity", oldCapacity,
		"new-capacity", newCapacity,
		"levels", oldLevels,
		"new-levels", len(levels))
	t.checkInvariants()
	return nil
}

// buildLevels allocates an empty hierarchy with the specified total capacity.
func (t *Table) buildLevels(capacity int) ([]level, error) {
	caps := levelCapacities(capacity, t.minLevelCapacity)
	levels := make([]level, 0, len(caps))
	for i, n := range caps {
		slots, err := t.allocator.AllocSlots(n)
		if err == nil && len(slots) != n {
			err = errors.Newf("allocator returned %d slots, expected %d", len(slots), n)
		}
		if err != nil {
			t.freeLevels(levels)
			return nil, allocationError(err, i, n)
		}
		clear(slots)
		levels = append(levels, makeLevel(i, slots))
	}
	return levels, nil
}

func (t *Table) freeLevels(levels []level) {
	for i := range levels {
		if levels[i].slots != nil {
			t.allocator.FreeSlots(levels[i].slots)
		}
	}
}

// String returns a human readable summary of the table and its levels.
func (t *Table) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "elastic.Table: len=%d capacity=%d load=%.3f levels=%d tombstones=%d\n",
		t.used, t.capacity, t.LoadFactor(), len(t.levels), t.Tombstones())
	for _, s := range t.LevelStats() {
		fmt.Fprintf(&buf, "  level %d: capacity=%d count=%d tombstones=%d load=%.3f\n",
			s.Level, s.Capacity, s.Count, s.Tombstones, s.LoadFactor())
	}
	return buf.String()
}

// GoString implements the fmt.GoStringer interface which is used when
// formatting using the "%#v" format specifier. It dumps every slot.
func (t *Table) GoString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "used=%d  capacity=%d  seed=%016x\n", t.used, t.capacity, t.seed)
	for li := range t.levels {
		t.levels[li].goFormat(&buf, t.reserve)
	}
	return buf.String()
}

func (l *level) goFormat(w io.Writer, reserve float64) {
	fmt.Fprintf(w, "level %d: capacity=%d  live=%d  tombstones=%d  budget=%d\n",
		l.index, l.capacity, l.live, l.tombstones, l.probeBudget(reserve))
	for i := range l.slots {
		switch s := &l.slots[i]; s.state {
		case slotOccupied:
			fmt.Fprintf(w, "  %4d: %q [%d bytes]\n", i, s.key, len(s.value))
		case slotTombstone:
			fmt.Fprintf(w, "  %4d: tombstone\n", i)
		}
	}
}

// checkInvariants verifies the internal consistency of the table, panicking
// if it is violated. It is a no-op unless built with the invariants tag.
func (t *Table) checkInvariants() {
	if !invariants {
		return
	}
	var capacity, used int
	for li := range t.levels {
		l := &t.levels[li]
		if l.index != li {
			panic(errors.AssertionFailedf("level %d has index %d", li, l.index))
		}
		if li > 0 && l.capacity >= t.levels[li-1].capacity {
			panic(errors.AssertionFailedf("level %d capacity %d is not smaller than level %d capacity %d",
				li, l.capacity, li-1, t.levels[li-1].capacity))
		}
		if l.live+l.tombstones > l.capacity {
			panic(errors.AssertionFailedf("level %d: live=%d tombstones=%d exceed capacity=%d",
				li, l.live, l.tombstones, l.capacity))
		}

		var live, tombstones int
		for i := range l.slots {
			s := &l.slots[i]
			switch s.state {
			case slotOccupied:
				live++
				if !l.occupied.Test(uint(i)) {
					panic(errors.AssertionFailedf("level %d slot %d: occupied but not in bitmap", li, i))
				}
				fl, fi, ok := t.find(unsafeBytes(s.key), t.hash(unsafeBytes(s.key), t.seed))
				if !ok || fl != li || fi != i {
					panic(errors.AssertionFailedf("level %d slot %d: %q found at level=%d slot=%d ok=%t\n%s",
						li, i, s.key, fl, fi, ok, t.GoString()))
				}
			case slotTombstone:
				tombstones++
			}
		}
		if live != l.live || tombstones != l.tombstones {
			panic(errors.AssertionFailedf("level %d: found live=%d tombstones=%d, but counts are live=%d tombstones=%d",
				li, live, tombstones, l.live, l.tombstones))
		}
		if n := int(l.occupied.Count()); n != live {
			panic(errors.AssertionFailedf("level %d: bitmap has %d bits set, expected %d", li, n, live))
		}
		capacity += l.capacity
		used += live
	}
	if capacity != t.capacity {
		panic(errors.AssertionFailedf("levels sum to capacity %d, expected %d", capacity, t.capacity))
	}
	if used != t.used {
		panic(errors.AssertionFailedf("found %d live entries, but used count is %d", used, t.used))
	}
}
