// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bcf-manager runs a fuzzing session described by a config file.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/manager"
	"github.com/google/bcfuzz/pkg/mgrconfig"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/tool"
)

var (
	flagConfig = flag.String("config", "", "configuration file")
	flagDebug  = flag.Bool("debug", false, "dump all executor output to console")
)

func main() {
	defer tool.Init()()
	if *flagConfig == "" {
		tool.Failf("usage: bcf-manager -config manager.cfg [-vv N] [-debug]")
	}
	log.EnableLogCaching(1000, 1<<20)
	cfg, err := mgrconfig.LoadFile(*flagConfig)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.Name != "" {
		log.SetName(cfg.Name)
	}
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdown
		cancel()
	}()
	session := manager.NewSession(cfg, manager.Options{Debug: *flagDebug})
	summary, err := session.Run(ctx)
	if err != nil {
		log.Fatalf("session failed: %v", err)
	}
	fmt.Printf("%v\n", summary)
}
