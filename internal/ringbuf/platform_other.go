//go:build !linux

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
	"sync/atomic"
	"time"
	"unsafe"
)

type mapping struct {
	base     unsafe.Pointer
	length   uintptr
	hdrSpan  uintptr
	dataSize uintptr
}

func mapRegion(fd int, hdrSpan, dataSize uintptr, writableData bool) (mapping, error) {
	return mapping{}, ErrUnsupported
}

func (m mapping) header() *storeHeader { return nil }

func (m mapping) data() []byte { return nil }

func (m mapping) unmap() error { return nil }

func flockFile(fd int, lock bool) error { return nil }

var processStart = time.Now()

func monotonicMillis() int64 {
	return time.Since(processStart).Milliseconds()
}

func processAlive(pid uint32) bool { return pid != 0 }

// futexWaitTimeout polls instead of sleeping in the kernel.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(time.Duration(timeoutNs))
	for atomic.LoadUint32(addr) == val {
		if time.Now().After(deadline) {
			return errFutexTimeout
		}
		<-ticker.C
	}
	return nil
}

func futexWake(addr *uint32, n int) (int, error) { return 0, nil }
