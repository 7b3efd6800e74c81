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
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
)

// Config describes a workload run against a single table.
type Config struct {
	// Capacity is the initial capacity of the table. Values below the
	// table's minimum are raised to it.
	Capacity int `yaml:"capacity"`
	// MaxLoad is the load factor past which the table grows.
	MaxLoad float64 `yaml:"max_load"`
	// Seed seeds the table's hash function. Zero selects a random seed.
	Seed uint64 `yaml:"seed"`
	// Keys is the number of distinct keys inserted.
	Keys      int    `yaml:"keys"`
	KeyPrefix string `yaml:"key_prefix"`
	ValueSize int    `yaml:"value_size"`
	// DeleteEvery deletes every n-th key after insertion. Zero disables the
	// delete phase.
	DeleteEvery int          `yaml:"delete_every"`
	Logger      LoggerConfig `yaml:"logger"`
}

// LoggerConfig configures the slog handler used by the run.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the workload used when no config file is present.
func Default() Config {
	return Config{
		Capacity:    0,
		MaxLoad:     0.9,
		Keys:        100000,
		KeyPrefix:   "key-",
		ValueSize:   16,
		DeleteEvery: 3,
		Logger: LoggerConfig{
			Level: "info",
		},
	}
}

// loadConfig reads a YAML workload from path, with fields absent from the
// file keeping their default values. A missing file yields Default().
func loadConfig(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Keys < 0:
		return errors.Newf("keys must not be negative: %d", c.Keys)
	case c.ValueSize < 0:
		return errors.Newf("value_size must not be negative: %d", c.ValueSize)
	case c.DeleteEvery < 0:
		return errors.Newf("delete_every must not be negative: %d", c.DeleteEvery)
	}
	if _, err := c.Logger.level(); err != nil {
		return err
	}
	return nil
}

func (c LoggerConfig) level() (slog.Level, error) {
	var level slog.Level
	if c.Level == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return level, errors.Wrapf(err, "logger level")
	}
	return level, nil
}
