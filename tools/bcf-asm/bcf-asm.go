// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bcf-asm converts bytecode modules between the text and the binary form.
//
//	bcf-asm -o demo.bcm demo.bca       assemble
//	bcf-asm -d demo.bcm                disassemble to stdout
//	bcf-asm -d -instrument demo.bcm    disassemble the instrumented module
//	bcf-asm -random 3 -o out.bcm name  generate a random valid module
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/instrument"
	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/tool"
)

var (
	flagOut        = flag.String("o", "", "output file (stdout if empty)")
	flagDisasm     = flag.Bool("d", false, "disassemble")
	flagInstrument = flag.Bool("instrument", false, "instrument the module before disassembling it")
	flagRandom     = flag.Int64("random", 0, "generate a random module with the given seed (0 to use time)")
	flagGenerate   = flag.Bool("generate", false, "generate a random module")
)

func main() {
	defer tool.Init()()
	args := flag.Args()
	if len(args) != 1 {
		tool.Failf("usage: bcf-asm [-d [-instrument]] [-generate [-random seed]] [-o out] input")
	}
	var out []byte
	var err error
	switch {
	case *flagGenerate:
		seed := *flagRandom
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		mod := bytecode.RandomModule(rand.New(rand.NewSource(seed)), args[0])
		log.Logf(1, "generated module %v with seed %v", args[0], seed)
		out = mod.Serialize()
	case *flagDisasm:
		out, err = disassemble(args[0])
	default:
		out, err = assemble(args[0])
	}
	if err != nil {
		tool.Fail(err)
	}
	if *flagOut == "" {
		os.Stdout.Write(out)
		return
	}
	if err := osutil.WriteFile(*flagOut, out); err != nil {
		tool.Fail(err)
	}
}

func assemble(file string) ([]byte, error) {
	text, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	mod, err := bytecode.Assemble(text)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", file, err)
	}
	return mod.Serialize(), nil
}

func disassemble(file string) ([]byte, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	mod, err := bytecode.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", file, err)
	}
	if !*flagInstrument {
		return bytecode.Disassemble(mod)
	}
	session := instrument.NewSession(instrument.Config{
		Capacity: cover.DefaultCapacity,
		Logf:     log.Logf,
	})
	res := session.Rewrite(mod.Name, data)
	if res.Blind {
		return nil, fmt.Errorf("%v can't be instrumented: %w", file, res.Err)
	}
	if mod, err = bytecode.Parse(res.Data); err != nil {
		return nil, err
	}
	text, err := bytecode.Disassemble(mod)
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("; edges %v-%v\n", res.Base, res.Base+res.Count)
	return append([]byte(header), text...), nil
}
