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

// LevelStat is a point-in-time snapshot of a single level.
type LevelStat struct {
	Level      int `json:"level"`
	Capacity   int `json:"capacity"`
	Count      int `json:"count"`
	Tombstones int `json:"tombstones"`
}

// LoadFactor returns the fraction of the level holding live entries.
func (s LevelStat) LoadFactor() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Count) / float64(s.Capacity)
}

// Stats is a point-in-time snapshot of a Table.
type Stats struct {
	Len        int `json:"len"`
	Capacity   int `json:"capacity"`
	Tombstones int `json:"tombstones"`
	// Resizes is the number of times the table has grown.
	Resizes int `json:"resizes"`
	// Compactions is the number of same-capacity rebuilds performed to drop
	// tombstones.
	Compactions int         `json:"compactions"`
	Levels      []LevelStat `json:"levels"`
}

// LoadFactor returns Len/Capacity.
func (s Stats) LoadFactor() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Capacity)
}

// LevelStats returns a snapshot of every level, ordered from the first
// (largest) level to the last.
func (t *Table) LevelStats() []LevelStat {
	stats := make([]LevelStat, len(t.levels))
	for i := range t.levels {
		l := &t.levels[i]
		stats[i] = LevelStat{
			Level:      l.index,
			Capacity:   l.capacity,
			Count:      l.live,
			Tombstones: l.tombstones,
		}
	}
	return stats
}

// Stats returns a snapshot of the table.
func (t *Table) Stats() Stats {
	return Stats{
		Len:         t.used,
		Capacity:    t.capacity,
		Tombstones:  t.Tombstones(),
		Resizes:     t.resizes,
		Compactions: t.compactions,
		Levels:      t.LevelStats(),
	}
}
