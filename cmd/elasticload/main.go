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

// Command elasticload drives an elastic.Table through a YAML described
// workload, cross-checking every operation against a builtin map. It prints
// a JSON report on stdout and exits non-zero if the table and the map
// disagreed.
//
//	elasticload -config workload.yaml -metrics
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/elastic"
	"github.com/cockroachdb/elastic/metrics"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

func main() {
	configPath := flag.String("config", "elasticload.yaml", "path to the YAML workload")
	dumpMetrics := flag.Bool("metrics", false, "print the final table statistics in the Prometheus text format")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elasticload: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.Logger, os.Stderr)

	report, err := run(cfg, logger)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	if err := writeReport(os.Stdout, report); err != nil {
		logger.Error("writing report", "error", err)
		os.Exit(1)
	}
	if *dumpMetrics {
		if err := writeMetrics(os.Stdout, report.Stats); err != nil {
			logger.Error("writing metrics", "error", err)
			os.Exit(1)
		}
	}
	if report.Mismatches > 0 {
		os.Exit(1)
	}
}

// newLogger builds a JSON or text slog.Logger writing to w. The config is
// validated by loadConfig, so an unparseable level falls back to info.
func newLogger(cfg LoggerConfig, w io.Writer) *slog.Logger {
	level, _ := cfg.level()
	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	logger.Debug("logger initialized", "level", level, "json", cfg.JSON)
	return logger
}

func writeReport(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(report), "encoding report")
}

// writeMetrics renders stats through the metrics collector in the Prometheus
// text exposition format.
func writeMetrics(w io.Writer, stats elastic.Stats) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector("elasticload", func() elastic.Stats {
		return stats
	})); err != nil {
		return errors.Wrap(err, "registering collector")
	}
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, f := range families {
		if _, err := expfmt.MetricFamilyToText(w, f); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}
