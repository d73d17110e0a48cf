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

package ringbuf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Capability is the role a participant attaches with.
type Capability uint32

const (
	Writer Capability = iota + 1
	Reader
	// Decrypter is a reader whose data mapping is writable so frames can be
	// decrypted in place.
	Decrypter
	// Dumper is a reader that attaches at the oldest valid frame rather than
	// the newest key frame.
	Dumper
)

func (c Capability) String() string {
	switch c {
	case Writer:
		return "writer"
	case Reader:
		return "reader"
	case Decrypter:
		return "decrypter"
	case Dumper:
		return "dumper"
	}
	return fmt.Sprintf("Capability(%d)", uint32(c))
}

func (c Capability) valid() bool {
	switch c {
	case Writer, Reader, Decrypter, Dumper:
		return true
	}
	return false
}

func (c Capability) isReader() bool {
	switch c {
	case Reader, Decrypter, Dumper:
		return true
	}
	return false
}

// writableData reports whether the data area is mapped read-write.
func (c Capability) writableData() bool {
	switch c {
	case Writer, Decrypter:
		return true
	}
	return false
}

// FrameKind classifies a committed frame.
type FrameKind uint8

const (
	FrameKey FrameKind = iota // independently decodable video frame
	FrameNonKey
	FrameAudio
	FrameJPEG
	FrameLog
	FrameDiscovery
	FrameSeek
	FrameEnd
	FrameAny // matches every kind when searching
)

var frameKindNames = [...]string{"key", "nonkey", "audio", "jpeg", "log", "discovery", "seek", "end", "any"}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return fmt.Sprintf("FrameKind(%d)", uint8(k))
}

// ParseFrameKind maps a name produced by FrameKind.String back to the kind.
func ParseFrameKind(s string) (FrameKind, error) {
	for i, n := range frameKindNames {
		if strings.EqualFold(s, n) {
			return FrameKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown frame kind %q: %w", s, ErrInvalidParam)
}

// WriteMode selects how AcquireWriteSpace treats blocking readers.
type WriteMode uint8

const (
	// WriteRelocate forcibly relocates blockers and retries, up to MaxRetries.
	WriteRelocate WriteMode = iota
	// WriteHard reports blockers without touching any reader.
	WriteHard
)

func (m WriteMode) String() string {
	if m == WriteHard {
		return "hard"
	}
	return "relocate"
}

// ParseWriteMode accepts "relocate" (or "") and "hard".
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(s) {
	case "", "relocate":
		return WriteRelocate, nil
	case "hard":
		return WriteHard, nil
	}
	return 0, fmt.Errorf("unknown write mode %q: %w", s, ErrInvalidParam)
}

// ParseCapability maps a name produced by Capability.String back to the
// capability.
func ParseCapability(s string) (Capability, error) {
	for c := Writer; c <= Dumper; c++ {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q: %w", s, ErrInvalidParam)
}

// Config holds the parameters of Open.
type Config struct {
	// Participant is the slot identity; re-attaching with the same name
	// reuses the slot.
	Participant string
	// Store names the backing file shared by all participants.
	Store string
	// Capacity is the requested data area size, rounded up to the page size.
	// Participants attaching to an existing store adopt its size.
	Capacity int
	Capability Capability
	// Persistent stores keep unread history when the writer re-attaches.
	Persistent bool
	// Dir overrides the directory of the backing file.
	Dir string
	// WriteMode is used by WriteFrame and WriteLog.
	WriteMode WriteMode
	Logger    *zerolog.Logger
}

func (c *Config) validate() error {
	if err := validateName("participant", c.Participant); err != nil {
		return err
	}
	if err := validateName("store", c.Store); err != nil {
		return err
	}
	if strings.ContainsAny(c.Store, `/\`) {
		return fmt.Errorf("store name %q contains a path separator: %w", c.Store, ErrInvalidParam)
	}
	if c.Capacity <= 0 || c.Capacity > MaxCapacity {
		return fmt.Errorf("capacity %d outside (0, %d]: %w", c.Capacity, MaxCapacity, ErrInvalidParam)
	}
	if !c.Capability.valid() {
		return fmt.Errorf("capability %v: %w", c.Capability, ErrInvalidParam)
	}
	return nil
}

func validateName(what, name string) error {
	if name == "" {
		return fmt.Errorf("empty %s name: %w", what, ErrInvalidParam)
	}
	if len(name) >= NameSize {
		return fmt.Errorf("%s name %q longer than %d bytes: %w", what, name, NameSize-1, ErrInvalidParam)
	}
	if strings.IndexByte(name, 0) >= 0 || strings.Contains(name, "|") {
		return fmt.Errorf("%s name %q contains a reserved character: %w", what, name, ErrInvalidParam)
	}
	return nil
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// StorePath returns the backing file of a store.
func StorePath(dir, store string) string {
	if dir == "" {
		dir = defaultDir()
	}
	return filepath.Join(dir, "framering_"+store)
}

// defaultDir prefers /dev/shm and falls back to the temporary directory.
func defaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
