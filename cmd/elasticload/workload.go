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

package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/elastic"
	"github.com/cockroachdb/errors"
)

// PhaseReport summarizes a single phase of a run.
type PhaseReport struct {
	Name       string        `json:"name"`
	Ops        int           `json:"ops"`
	Duration   time.Duration `json:"duration_ns"`
	Mismatches int           `json:"mismatches"`
}

// Report is the outcome of a run. A run succeeded if Mismatches is zero.
type Report struct {
	Phases     []PhaseReport `json:"phases"`
	Mismatches int           `json:"mismatches"`
	LoadFactor float64       `json:"load_factor"`
	Stats      elastic.Stats `json:"stats"`
}

// workload drives a table and a builtin map through the same operations and
// counts every disagreement between the two.
type workload struct {
	cfg    Config
	logger *slog.Logger
	tbl    *elastic.Table
	ref    map[string][]byte
	report Report
}

func (w *workload) key(i int) []byte {
	return []byte(fmt.Sprintf("%s%d", w.cfg.KeyPrefix, i))
}

func (w *workload) value(i int) []byte {
	v := make([]byte, w.cfg.ValueSize)
	for j := range v {
		v[j] = byte(i + j)
	}
	return v
}

func (w *workload) phase(name string, fn func() (ops int, err error)) error {
	before := w.report.Mismatches
	start := time.Now()
	ops, err := fn()
	p := PhaseReport{
		Name:       name,
		Ops:        ops,
		Duration:   time.Since(start),
		Mismatches: w.report.Mismatches - before,
	}
	w.report.Phases = append(w.report.Phases, p)
	w.logger.Info("phase complete",
		"phase", name,
		"ops", p.Ops,
		"duration", p.Duration,
		"mismatches", p.Mismatches,
		"len", w.tbl.Len(),
		"capacity", w.tbl.Capacity())
	return errors.Wrapf(err, "%s phase", name)
}

func (w *workload) mismatch(msg string, args ...any) {
	w.report.Mismatches++
	w.logger.Error(msg, args...)
}

func (w *workload) insert() (int, error) {
	for i := 0; i < w.cfg.Keys; i++ {
		k, v := w.key(i), w.value(i)
		if err := w.tbl.Put(k, v); err != nil {
			return i, err
		}
		w.ref[string(k)] = v
	}
	return w.cfg.Keys, nil
}

func (w *workload) verify() (int, error) {
	if w.tbl.Len() != len(w.ref) {
		w.mismatch("length mismatch", "len", w.tbl.Len(), "expected", len(w.ref))
	}
	var ops int
	for i := 0; i < w.cfg.Keys; i++ {
		k := w.key(i)
		expected, present := w.ref[string(k)]
		got, ok := w.tbl.Get(k)
		ops++
		switch {
		case ok != present:
			w.mismatch("presence mismatch", "key", string(k), "found", ok, "expected", present)
		case ok && !bytes.Equal(got, expected):
			w.mismatch("value mismatch", "key", string(k))
		}
	}
	return ops, nil
}

func (w *workload) delete() (int, error) {
	if w.cfg.DeleteEvery == 0 {
		return 0, nil
	}
	var ops int
	for i := 0; i < w.cfg.Keys; i += w.cfg.DeleteEvery {
		k := w.key(i)
		if !w.tbl.Delete(k) {
			w.mismatch("delete of present key failed", "key", string(k))
		}
		delete(w.ref, string(k))
		ops++
	}
	// Keys that were never inserted.
	if w.tbl.Delete(w.key(-1)) {
		w.mismatch("delete of absent key succeeded", "key", string(w.key(-1)))
	}
	return ops + 1, nil
}

func (w *workload) iterate() (int, error) {
	seen := make(map[string]struct{}, len(w.ref))
	for k, v := range w.tbl.All {
		if _, dup := seen[string(k)]; dup {
			w.mismatch("key yielded twice", "key", string(k))
			continue
		}
		seen[string(k)] = struct{}{}
		if expected, ok := w.ref[string(k)]; !ok {
			w.mismatch("unexpected key", "key", string(k))
		} else if !bytes.Equal(v, expected) {
			w.mismatch("value mismatch", "key", string(k))
		}
	}
	if len(seen) != len(w.ref) {
		w.mismatch("iteration count mismatch", "count", len(seen), "expected", len(w.ref))
	}
	return len(seen), nil
}

// run executes the workload described by cfg. An error is returned if the
// table could not be created or an operation failed; disagreements with the
// builtin map are counted in the report instead.
func run(cfg Config, logger *slog.Logger) (Report, error) {
	options := []elastic.Option{
		elastic.WithMaxLoad(cfg.MaxLoad),
		elastic.WithLogger(logger),
	}
	if cfg.Seed != 0 {
		options = append(options, elastic.WithSeed(cfg.Seed))
	}
	tbl, err := elastic.New(cfg.Capacity, options...)
	if err != nil {
		return Report{}, errors.Wrap(err, "creating table")
	}
	defer tbl.Close()

	w := &workload{
		cfg:    cfg,
		logger: logger,
		tbl:    tbl,
		ref:    make(map[string][]byte, cfg.Keys),
	}
	phases := []struct {
		name string
		fn   func() (int, error)
	}{
		{"insert", w.insert},
		{"verify", w.verify},
		{"delete", w.delete},
		{"verify-after-delete", w.verify},
		{"iterate", w.iterate},
	}
	for _, p := range phases {
		if err := w.phase(p.name, p.fn); err != nil {
			return w.report, err
		}
	}

	w.report.Stats = tbl.Stats()
	w.report.LoadFactor = tbl.LoadFactor()
	return w.report, nil
}
