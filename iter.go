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

// Iterator walks the entries of a Table in level order and, within a level,
// slot order. It is created with Table.Iter.
//
// The iterator snapshots the level hierarchy it was created against. Mutating
// the table while an iterator is open is not supported: entries may be missed
// or observed twice, though the iterator itself remains memory safe.
type Iterator struct {
	levels []level
	level  int
	// The next slot of levels[level] to examine.
	pos uint
}

// Iter returns an iterator positioned before the first entry of the table.
func (t *Table) Iter() *Iterator {
	return &Iterator{levels: t.levels}
}

// Next advances the iterator and returns the next entry, or ok=false once the
// table is exhausted. The key is a copy; the value aliases the table's storage
// and is only valid until the next mutating call on the table.
func (it *Iterator) Next() (key, value []byte, ok bool) {
	for it.level < len(it.levels) {
		l := &it.levels[it.level]
		if i, found := l.occupied.NextSet(it.pos); found {
			it.pos = i + 1
			s := &l.slots[i]
			return []byte(s.key), s.value, true
		}
		it.level++
		it.pos = 0
	}
	return nil, nil, false
}

// Close releases the iterator's reference to the table. Next returns
// ok=false after Close. Close is idempotent.
func (it *Iterator) Close() {
	it.levels = nil
	it.level = 0
	it.pos = 0
}

// All calls yield sequentially for each key and value present in the table,
// in level order and then slot order. If yield returns false, iteration
// stops. All has the signature of an iter.Seq2 and can be used with
// range-over-func:
//
//	for k, v := range t.All {
//	  fmt.Printf("%s: %s\n", k, v)
//	}
//
// The key passed to yield must not be modified and is only valid for the
// duration of the call.
func (t *Table) All(yield func(key, value []byte) bool) {
	// Snapshot the levels so that iteration remains memory safe if the table
	// is rebuilt during iteration.
	levels := t.levels
	for li := range levels {
		l := &levels[li]
		for i, ok := l.occupied.NextSet(0); ok; i, ok = l.occupied.NextSet(i + 1) {
			s := &l.slots[i]
			if !yield(unsafeBytes(s.key), s.value) {
				return
			}
		}
	}
}
