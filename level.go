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
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Each slot has one of three states. The zero value is slotEmpty so that a
// freshly allocated slot array is entirely empty.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotOccupied:
		return "occupied"
	case slotTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Slot holds a key and value. The key is only meaningful when the slot is
// occupied.
type Slot struct {
	key   string
	value []byte
	state slotState
}

// level is a fixed capacity open-addressed array of slots. Levels are never
// resized; growth replaces the entire hierarchy.
type level struct {
	// index is the position of the level within the hierarchy. It salts the
	// probe sequence so that keys colliding in one level are spread out in
	// the next.
	index    int
	capacity int
	slots    []Slot
	// The number of occupied slots.
	live int
	// The number of tombstone slots. Tombstones count against the level's
	// free space when computing the probe budget.
	tombstones int
	// occupied has a bit set for every occupied slot. It allows iteration to
	// skip over runs of empty and tombstone slots.
	occupied *bitset.BitSet
}

func makeLevel(index int, slots []Slot) level {
	return level{
		index:    index,
		capacity: len(slots),
		slots:    slots,
		occupied: bitset.New(uint(len(slots))),
	}
}

// levelCapacities returns the capacity of each level of a hierarchy with the
// specified total capacity. Level sizes halve from total/2 until they would
// fall below minLevel and the remainder is folded into level 0, which keeps
// the capacities strictly decreasing and their sum equal to total:
//
//	64  -> [48 16]
//	128 -> [80 32 16]
//	256 -> [144 64 32 16]
func levelCapacities(total, minLevel int) []int {
	var caps []int
	remaining := total
	for size := total / 2; size >= minLevel; size /= 2 {
		caps = append(caps, size)
		remaining -= size
	}
	if len(caps) == 0 {
		return []int{total}
	}
	caps[0] += remaining
	return caps
}

// probeBudget returns the maximum number of slots an insertion may examine in
// the level before falling through to the next level. The budget follows the
// O(log^2(1/eps)) bound of elastic hashing where eps is the fraction of the
// level that is empty: a nearly empty level accepts a key within a handful of
// probes, while a level nearing saturation is searched harder before the key
// overflows. eps never drops below reserve, which bounds the budget by
// 3+3*ln(1/reserve)^2 however full the level is.
func (l *level) probeBudget(reserve float64) int {
	eps := max(float64(l.empty())/float64(l.capacity), reserve)
	ln := math.Log(1 / eps)
	budget := int(3+3*ln*ln) + 1
	return min(budget, l.capacity)
}

// empty returns the number of slots that are neither occupied nor a
// tombstone. Only empty slots terminate a lookup.
func (l *level) empty() int {
	return l.capacity - l.live - l.tombstones
}

// reserveSlots returns the number of empty slots the level keeps free of new
// entries, so that lookups reach an empty slot within about 1/reserve probes.
func (l *level) reserveSlots(reserve float64) int {
	return int(reserve * float64(l.capacity))
}

// findForInsert walks at most budget steps of the key's probe sequence and
// returns the index of the first reusable slot, or of the slot already
// holding key. Empty slots are only reusable if takeEmpty is set; tombstones
// always are. Returns ok=false if the budget is exhausted.
func (l *level) findForInsert(key string, h uint64, budget int, takeEmpty bool) (i int, ok bool) {
	seq := makeProbeSeq(h, l.index, l.capacity)
	if debug {
		fmt.Printf("insert(%q): level=%d budget=%d %s\n", key, l.index, budget, seq)
	}
	for ; seq.index < uint64(budget); seq = seq.next() {
		s := &l.slots[seq.offset]
		switch s.state {
		case slotEmpty:
			if takeEmpty {
				return int(seq.offset), true
			}
		case slotTombstone:
			return int(seq.offset), true
		case slotOccupied:
			if s.key == key {
				return int(seq.offset), true
			}
		}
	}
	return -1, false
}

// findForLookup walks the key's probe sequence until it finds the occupied
// slot holding key or reaches an empty slot. Tombstones do not terminate the
// search. Returns ok=false if the key is not present in the level.
func (l *level) findForLookup(key []byte, h uint64) (i int, ok bool) {
	seq := makeProbeSeq(h, l.index, l.capacity)
	for ; seq.index < uint64(l.capacity); seq = seq.next() {
		s := &l.slots[seq.offset]
		switch s.state {
		case slotEmpty:
			if debug {
				fmt.Printf("lookup(%q): level=%d not-found after %d probes\n", key, l.index, seq.index+1)
			}
			return -1, false
		case slotOccupied:
			if s.key == string(key) {
				return int(seq.offset), true
			}
		}
	}
	return -1, false
}

// store places key and value in slot i, which must be empty or a tombstone.
func (l *level) store(i int, key string, value []byte) {
	s := &l.slots[i]
	if s.state == slotTombstone {
		l.tombstones--
	}
	s.key = key
	s.value = value
	s.state = slotOccupied
	l.live++
	l.occupied.Set(uint(i))
}

// remove turns the occupied slot i into a tombstone and drops its contents.
func (l *level) remove(i int) {
	l.slots[i] = Slot{state: slotTombstone}
	l.live--
	l.tombstones++
	l.occupied.Clear(uint(i))
}

// put stores key and value in slot i as returned by findForInsert.
func (l *level) put(i int, key string, value []byte) {
	if s := &l.slots[i]; s.state == slotOccupied {
		s.value = value
		return
	}
	l.store(i, key, value)
}

// probeSeq maintains the state for a double hashing probe sequence of the
// form
//
//	p(i) := (start + i*step) mod capacity
//
// The start and step are derived from the key's hash remixed with the level
// index, so each level sees an independent sequence. The step is coprime with
// the capacity which guarantees that the first capacity offsets of the
// sequence visit every slot exactly once, whatever the capacity.
type probeSeq struct {
	capacity uint64
	offset   uint64
	step     uint64
	// The number of slots visited before offset.
	index uint64
}

const (
	levelSalt1 = 0x9e3779b97f4a7c15
	levelSalt2 = 0x517cc1b727220a95
)

func makeProbeSeq(h uint64, levelIndex, capacity int) probeSeq {
	c := uint64(capacity)
	salt := uint64(levelIndex + 1)
	start := mix(h + salt*levelSalt1)
	step := mix(h ^ (salt * levelSalt2))
	return probeSeq{
		capacity: c,
		offset:   start % c,
		step:     coprimeStep(step%c, c),
	}
}

func (s probeSeq) next() probeSeq {
	s.offset += s.step
	if s.offset >= s.capacity {
		s.offset -= s.capacity
	}
	s.index++
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("capacity=%d offset=%d step=%d index=%d", s.capacity, s.offset, s.step, s.index)
}

// coprimeStep returns the smallest value >= step (wrapping around to 1) that
// is coprime with capacity.
func coprimeStep(step, capacity uint64) uint64 {
	if step == 0 {
		step = 1
	}
	for gcd(step, capacity) != 1 {
		step++
		if step >= capacity {
			step = 1
		}
	}
	return step
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// mix is the splitmix64 finalizer. It turns a weak or correlated input into a
// well distributed 64-bit value.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
