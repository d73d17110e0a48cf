//go:build linux

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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futex operations on the commit sequence word. The word lives in a
// mapping shared between processes, so FUTEX_PRIVATE_FLAG stays clear.
const (
	opWait = 0
	opWake = 1
)

func futex(addr *uint32, op int, val uint32, ts *unix.Timespec) (uintptr, unix.Errno) {
	n, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(op), uintptr(val),
		uintptr(unsafe.Pointer(ts)), 0, 0)
	return n, errno
}

// futexWaitTimeout sleeps while *addr still holds seq, for at most
// timeoutNs. Returning nil does not mean the word changed.
func futexWaitTimeout(addr *uint32, seq uint32, timeoutNs int64) error {
	if atomic.LoadUint32(addr) != seq {
		return nil
	}
	ts := unix.NsecToTimespec(timeoutNs)
	switch _, errno := futex(addr, opWait, seq, &ts); errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return errFutexTimeout
	default:
		return fmt.Errorf("ringbuf: sleeping on commit sequence: %w", errno)
	}
}

// futexWake wakes at most n sleepers on addr and reports how many woke.
func futexWake(addr *uint32, n int) (int, error) {
	woken, errno := futex(addr, opWake, uint32(n), nil)
	if errno != 0 {
		return 0, fmt.Errorf("ringbuf: waking commit sequence sleepers: %w", errno)
	}
	return int(woken), nil
}
