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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/ringbuf"
)

func (a *app) inspect(store string) (*ringbuf.Inspector, error) {
	in, err := ringbuf.Inspect(store, a.cfg.Dir, &a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %q: %w", store, err)
	}
	return in, nil
}

func runInspect(a *app, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	frames := fs.Bool("frames", false, "list the valid frame index window")
	rest, err := subcommand(fs, args, 1)
	if err != nil {
		return err
	}
	in, err := a.inspect(rest[0])
	if err != nil {
		return err
	}
	defer in.Close()
	fmt.Print(renderSnapshot(in.Snapshot(), *frames))
	return nil
}

func runReaders(a *app, args []string) error {
	fs := flag.NewFlagSet("readers", flag.ContinueOnError)
	rest, err := subcommand(fs, args, 1)
	if err != nil {
		return err
	}
	pattern := ""
	if len(rest) > 1 {
		pattern = rest[1]
	}
	in, err := a.inspect(rest[0])
	if err != nil {
		return err
	}
	defer in.Close()

	readers := in.Snapshot().Readers
	matches := matchReaders(pattern, readers)
	if len(matches) == 0 {
		fmt.Fprintf(os.Stderr, "no reader matches %q\n", pattern)
		return nil
	}
	for _, m := range matches {
		r := readers[m.Index]
		fmt.Printf("%-3d %s  pid %d  %v  index %d  %s behind\n",
			r.Slot, highlight(m), r.PID, r.Capability, r.Index, formatBytes(uint64(r.Readable)))
	}
	return nil
}

func runReclaim(a *app, args []string) error {
	fs := flag.NewFlagSet("reclaim", flag.ContinueOnError)
	rest, err := subcommand(fs, args, 1)
	if err != nil {
		return err
	}
	in, err := a.inspect(rest[0])
	if err != nil {
		return err
	}
	defer in.Close()
	freed, err := in.Reclaim()
	for _, name := range freed {
		fmt.Printf("reclaimed %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(freed) == 0 {
		fmt.Println("no stale participants")
	}
	return nil
}
