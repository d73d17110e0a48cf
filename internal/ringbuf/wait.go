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
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// waitSlice bounds a single futex sleep so cancellation without a deadline
// is still noticed.
const waitSlice = 50 * time.Millisecond

// Wait blocks until a frame has been committed since the handle's last
// request, or until ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	if err := h.checkReader(); err != nil {
		return err
	}
	hdr := h.hdr
	for {
		seq := atomic.LoadUint32(&hdr.commitSeq)
		if seq != h.seenSeq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timeout := waitSlice
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return context.DeadlineExceeded
			}
			timeout = min(timeout, remaining)
		}
		if err := futexWaitTimeout(&hdr.commitSeq, seq, timeout.Nanoseconds()); err != nil && !errors.Is(err, errFutexTimeout) {
			return err
		}
	}
}

// NextFrame is AcquireNextFrame that waits for a matching frame to arrive.
func (h *Handle) NextFrame(ctx context.Context, kind FrameKind) (Frame, error) {
	for {
		f, err := h.AcquireNextFrame(kind)
		if !errors.Is(err, ErrNoIndex) {
			return f, err
		}
		if err := h.Wait(ctx); err != nil {
			return Frame{}, err
		}
	}
}
