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

// Command framering inspects, feeds and dumps frame ring stores.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/changqingss/Mbedtls-KCP-sub000/internal/config"
)

// app is the state shared by every subcommand.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

type command struct {
	name  string
	args  string
	usage string
	run   func(a *app, args []string) error
}

var commands = []command{
	{"inspect", "[-frames] <store>", "Print a store's header, participants and black holes", runInspect},
	{"watch", "[-interval d] <store>", "Live view of a store's participants", runWatch},
	{"readers", "<store> [pattern]", "List readers, fuzzy matched against pattern", runReaders},
	{"reclaim", "<store>", "Free the slots of participants whose process exited", runReclaim},
	{"dump", "[-o file] [-kind k] [-n count] [-follow] <store>", "Write frames as msgpack records", runDump},
	{"feed", "[-channel n] [-fps n] [-gop n] [-frames n] [-size n] [-audio] <device>", "Publish a synthetic media stream", runFeed},
	{"capacity", "[-capacity n]", "Probe how a scratch store fills up", runCapacity},
}

func setupLogger(level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
	return log.Logger
}

func main() {
	var configFile, dir string
	flag.StringVar(&configFile, "f", "", "path to config file (default: searches for framering.yaml in current directory)")
	flag.StringVar(&dir, "dir", "", "store directory, overriding the config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-9s %s\n            %s\n", c.name, c.args, c.usage)
		}
	}
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if dir != "" {
		cfg.Dir = dir
	}
	a := &app{cfg: cfg, log: setupLogger(cfg.Level())}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		if err := c.run(a, args[1:]); err != nil {
			a.log.Error().Err(err).Str("command", c.name).Msg("command failed")
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
	flag.Usage()
	os.Exit(2)
}

// subcommand parses args for one command and returns the positional
// arguments, requiring at least want of them.
func subcommand(fs *flag.FlagSet, args []string, want int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < want {
		fs.Usage()
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), want, fs.NArg())
	}
	return fs.Args(), nil
}
