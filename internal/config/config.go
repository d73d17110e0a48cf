/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config loads the framering YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

var defaultPaths = []string{"framering.yaml", "framering.yml"}

// Load reads the configuration at path. An empty path searches the working
// directory for framering.yaml; when none exists the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			cfg := applyDefaults(Config{})
			return &cfg, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg = applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.Name == "" {
			return errors.New("store without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("store %q listed twice", s.Name)
		}
		seen[s.Name] = true
		if _, err := ringbuf.ParseWriteMode(s.WriteMode); err != nil {
			return fmt.Errorf("store %q: %w", s.Name, err)
		}
	}
	return nil
}

// Level is the configured log level.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// Store returns the named store, or a store with default settings when the
// name is not configured.
func (c *Config) Store(name string) StoreConfig {
	for _, s := range c.Stores {
		if s.Name == name {
			return s
		}
	}
	return applyDefaults(Config{Stores: []StoreConfig{{Name: name}}}).Stores[0]
}

// Ring builds the ringbuf configuration for participant attaching to the
// store s with the given capability.
func (c *Config) Ring(s StoreConfig, participant string, capability ringbuf.Capability, logger *zerolog.Logger) ringbuf.Config {
	mode, _ := ringbuf.ParseWriteMode(s.WriteMode)
	return ringbuf.Config{
		Participant: participant,
		Store:       s.Name,
		Capacity:    s.Capacity,
		Capability:  capability,
		Persistent:  s.Persistent,
		Dir:         c.Dir,
		WriteMode:   mode,
		Logger:      logger,
	}
}

// PreRollDuration is PreRoll as a duration.
func (s StoreConfig) PreRollDuration() time.Duration {
	return time.Duration(s.PreRoll) * time.Second
}
