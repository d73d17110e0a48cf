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

// Package ringbuf implements a shared memory frame store for one writer and
// up to MaxReaders readers on the same machine.
//
// A store is a file, normally under /dev/shm, holding a header followed by a
// data area. The data area is mapped twice back to back so a frame that
// wraps the end of the ring is still one contiguous slice. The header keeps
// the participant slots, a ring of MaxFrames index entries and the black
// holes that protect frames a relocated reader still holds. All metadata
// changes happen under a file lock shared by every process attached to the
// store; readers sleep on a futex word bumped by each commit.
//
// The writer never waits for readers. When a reader is in the way it is
// either reported (WriteHard) or moved forward to the newest key frame
// (WriteRelocate), and a reader that falls behind resynchronizes on the next
// key frame of a video store.
package ringbuf
