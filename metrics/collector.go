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

// Package metrics exports the statistics of an elastic.Table as Prometheus
// metrics.
//
// A Table is not goroutine-safe while Prometheus scrapes from its own
// goroutine, so the collector never touches the table directly. It calls a
// caller supplied source function on every scrape, which is expected to take
// whatever lock guards the table and return elastic.Table.Stats:
//
//	var mu sync.Mutex
//	c := metrics.NewCollector("myapp_cache", func() elastic.Stats {
//	  mu.Lock()
//	  defer mu.Unlock()
//	  return tbl.Stats()
//	})
//	prometheus.MustRegister(c)
package metrics

import (
	"strconv"

	"github.com/cockroachdb/elastic"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a prometheus.Collector over the statistics of a Table.
type Collector struct {
	source func() elastic.Stats

	entries     *prometheus.Desc
	capacity    *prometheus.Desc
	tombstones  *prometheus.Desc
	loadFactor  *prometheus.Desc
	resizes     *prometheus.Desc
	compactions *prometheus.Desc

	levelCapacity   *prometheus.Desc
	levelEntries    *prometheus.Desc
	levelTombstones *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector exporting the statistics returned by
// source under the specified namespace. Every metric name is prefixed with
// namespace followed by "elastic_", e.g. "myapp_elastic_entries".
func NewCollector(namespace string, source func() elastic.Stats) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "elastic", name), help, labels, nil)
	}
	return &Collector{
		source: source,

		entries:     desc("entries", "Number of live entries in the table."),
		capacity:    desc("capacity", "Total number of slots across all levels."),
		tombstones:  desc("tombstones", "Number of tombstone slots across all levels."),
		loadFactor:  desc("load_factor", "Fraction of slots holding live entries."),
		resizes:     desc("resizes_total", "Number of times the table has grown."),
		compactions: desc("compactions_total", "Number of same-capacity rebuilds that dropped tombstones."),

		levelCapacity:   desc("level_capacity", "Number of slots in the level.", "level"),
		levelEntries:    desc("level_entries", "Number of live entries in the level.", "level"),
		levelTombstones: desc("level_tombstones", "Number of tombstone slots in the level.", "level"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.capacity
	ch <- c.tombstones
	ch <- c.loadFactor
	ch <- c.resizes
	ch <- c.compactions
	ch <- c.levelCapacity
	ch <- c.levelEntries
	ch <- c.levelTombstones
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(c.entries, float64(s.Len))
	gauge(c.capacity, float64(s.Capacity))
	gauge(c.tombstones, float64(s.Tombstones))
	gauge(c.loadFactor, s.LoadFactor())
	ch <- prometheus.MustNewConstMetric(c.resizes, prometheus.CounterValue, float64(s.Resizes))
	ch <- prometheus.MustNewConstMetric(c.compactions, prometheus.CounterValue, float64(s.Compactions))

	for _, l := range s.Levels {
		level := strconv.Itoa(l.Level)
		gauge(c.levelCapacity, float64(l.Capacity), level)
		gauge(c.levelEntries, float64(l.Count), level)
		gauge(c.levelTombstones, float64(l.Tombstones), level)
	}
}
