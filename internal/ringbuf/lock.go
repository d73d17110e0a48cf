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
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// sharedLock guards the metadata region across processes.
//
// Exclusion between processes comes from flock(2) on the backing file, which
// the kernel releases when its holder exits. Exclusion between goroutines of
// one handle comes from mu, because flock is a no-op for a descriptor that
// already holds it. The header's lockOwner word records who is inside the
// critical section; finding it non-zero on entry means the previous holder
// died there, and the lock is marked consistent again before proceeding.
//
// The lock is not re-entrant. Helpers named *Locked expect it to be held.
type sharedLock struct {
	mu  sync.Mutex
	fd  int
	hdr *storeHeader
	pid uint32
	log *zerolog.Logger
}

type lockGuard struct {
	l *sharedLock
}

func newSharedLock(fd int, hdr *storeHeader, log *zerolog.Logger) *sharedLock {
	return &sharedLock{fd: fd, hdr: hdr, pid: uint32(os.Getpid()), log: log}
}

// acquire blocks until the caller owns the lock. Release with unlock:
//
//	g := l.acquire()
//	defer g.unlock()
func (l *sharedLock) acquire() lockGuard {
	l.mu.Lock()
	if err := flockFile(l.fd, true); err != nil {
		l.log.Error().Err(err).Msg("flock failed, continuing with in-process exclusion only")
	}
	return l.enter()
}

// enter is the second half of acquire, for callers that already hold mu
// and the file lock.
func (l *sharedLock) enter() lockGuard {
	if owner := atomic.LoadUint32(&l.hdr.lockOwner); owner != 0 {
		n := atomic.AddUint32(&l.hdr.lockRecoveries, 1)
		l.log.Warn().
			Uint32("owner_pid", owner).
			Uint32("recoveries", n).
			Msg("previous lock holder died inside the critical section, marking lock consistent")
	}
	atomic.StoreUint32(&l.hdr.lockOwner, l.pid)
	return lockGuard{l: l}
}

func (g lockGuard) unlock() {
	atomic.StoreUint32(&g.l.hdr.lockOwner, 0)
	if err := flockFile(g.l.fd, false); err != nil {
		g.l.log.Error().Err(err).Msg("flock release failed")
	}
	g.l.mu.Unlock()
}
