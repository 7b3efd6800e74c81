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

import "github.com/cockroachdb/errors"

var (
	// ErrAllocation is returned when the slot arrays for a new hierarchy
	// could not be obtained. The table is left unchanged.
	ErrAllocation = errors.New("elastic: allocation failure")

	// ErrPlacement is returned when an insertion could not find a free slot
	// in any level. The table grows before it can become completely full, so
	// this indicates corrupted bookkeeping; errors marked with ErrPlacement
	// are also assertion failures (see errors.HasAssertionFailure).
	ErrPlacement = errors.New("elastic: no free slot in any level")

	// ErrClosed is returned when mutating a Table after Close.
	ErrClosed = errors.New("elastic: table is closed")
)

func allocationError(err error, level, n int) error {
	return errors.Mark(errors.Wrapf(err, "allocating level %d (%d slots)", level, n), ErrAllocation)
}

func placementError(levels, capacity, used int) error {
	return errors.Mark(errors.AssertionFailedf(
		"no free slot across %d levels (capacity=%d used=%d)",
		levels, capacity, used), ErrPlacement)
}
