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

const (
	defaultLogLevel  = "info"
	defaultCapacity  = 4 << 20
	defaultWriteMode = "relocate"
)

func applyDefaults(cfg Config) Config {
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	for i := range cfg.Stores {
		s := &cfg.Stores[i]
		if s.Capacity <= 0 {
			s.Capacity = defaultCapacity
		}
		if s.WriteMode == "" {
			s.WriteMode = defaultWriteMode
		}
		if s.PreRoll < 0 {
			s.PreRoll = 0
		}
	}
	return cfg
}
