// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bcf-executor hosts the target in the bytecode interpreter and executes inputs
// sent by bcf-manager one at a time. It exits with executor.ExitFatal when the
// target became unusable and the process must be replaced.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/interp"
	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/tool"
)

var (
	flagAddr     = flag.String("addr", "", "manager rpc address")
	flagName     = flag.String("name", "executor", "worker name")
	flagModules  = flag.String("modules", "", "directory with target modules")
	flagEntry    = flag.String("entry", "", "entry point (module.method)")
	flagCapacity = flag.Int("capacity", cover.DefaultCapacity, "coverage table size")
	flagGrace    = flag.Duration("grace", executor.DefaultGrace, "how long to wait for the target after the budget")
	flagMaxSteps = flag.Int64("max_steps", 0, "interpreter step budget of an execution")
	flagMaxDepth = flag.Int("max_depth", 0, "maximum call depth")
)

func main() {
	defer tool.Init()()
	if *flagAddr == "" || *flagModules == "" || *flagEntry == "" {
		log.Fatalf("-addr, -modules and -entry are required")
	}
	log.SetName(*flagName)
	start := time.Now()
	target, err := executor.NewVMTarget(executor.VMConfig{
		Source:   interp.DirSource(*flagModules),
		Entry:    *flagEntry,
		MaxSteps: *flagMaxSteps,
		MaxDepth: *flagMaxDepth,
		Capacity: *flagCapacity,
		Logf:     log.Logf,
	})
	if err != nil {
		log.Fatalf("failed to load the target: %v", err)
	}
	coord := executor.NewCoordinator(target, target.Recorder(), executor.Config{
		Grace: *flagGrace,
		Logf:  log.Logf,
	})
	log.Logf(1, "loaded %v modules with %v edges in %v",
		len(target.Session().Results()), coord.Edges(), time.Since(start))

	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdown
		cancel()
	}()
	conn, err := flatrpc.Dial(*flagAddr, 1)
	if err != nil {
		log.Fatalf("failed to connect to %v: %v", *flagAddr, err)
	}
	defer conn.Close()
	err = executor.Serve(ctx, conn, coord, *flagName)
	if errors.Is(err, executor.ErrFatal) {
		log.Logf(0, "the target is unusable, exiting")
		conn.Close()
		os.Exit(executor.ExitFatal)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}
