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

package config

// Config is the framering configuration file.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// Dir holds the store backing files. Empty selects /dev/shm when it
	// exists.
	Dir    string        `yaml:"dir"`
	Stores []StoreConfig `yaml:"stores"`
}

// StoreConfig describes one named store.
type StoreConfig struct {
	Name       string `yaml:"name"`
	Capacity   int    `yaml:"capacity"`
	Persistent bool   `yaml:"persistent"`
	// WriteMode is "relocate" or "hard".
	WriteMode string `yaml:"write_mode"`
	// PreRoll is how far back, in seconds, media readers start.
	PreRoll int `yaml:"pre_roll"`
}
