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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSpace is returned when the writer cannot reserve the requested
	// bytes, or when no participant slot is free.
	ErrNoSpace = errors.New("ringbuf: out of space")

	// ErrPermission is returned for role mismatches and out-of-protocol calls
	// such as a commit without a preceding request.
	ErrPermission = errors.New("ringbuf: permission denied")

	// ErrInvalidParam is returned for rejected arguments. No state is
	// modified when it is returned.
	ErrInvalidParam = errors.New("ringbuf: invalid parameter")

	// ErrNoIndex is returned when no matching frame index entry exists. For
	// readers this is the "no data yet" poll result.
	ErrNoIndex = errors.New("ringbuf: no matching index entry")

	// ErrExists is returned when an identity is already taken.
	ErrExists = errors.New("ringbuf: duplicate identity")

	// ErrClosed is returned by operations on a detached handle.
	ErrClosed = errors.New("ringbuf: handle closed")

	// ErrUnsupported is returned on platforms without shared mappings.
	ErrUnsupported = errors.New("ringbuf: shared memory store not supported on this platform")

	// errFutexTimeout is returned by futexWaitTimeout when the wait times out.
	errFutexTimeout = errors.New("futex timeout")
)

// Blocker identifies a reader that stands in the writer's way.
type Blocker struct {
	Slot int
	Name string
}

// BlockedError reports a failed reservation and the readers that caused it.
// It unwraps to ErrNoSpace, or to ErrNoIndex when the frame index ring was
// the limiting resource.
type BlockedError struct {
	Reason   error
	Blockers []Blocker
}

func (e *BlockedError) Error() string {
	names := make([]string, len(e.Blockers))
	for i, b := range e.Blockers {
		names[i] = b.Name
	}
	return fmt.Sprintf("%v: blocked by [%s]", e.Reason, strings.Join(names, ", "))
}

func (e *BlockedError) Unwrap() error {
	return e.Reason
}
