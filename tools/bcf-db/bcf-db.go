// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bcf-db inspects and manipulates corpus databases.
//
//	bcf-db list corpus.db               print one line per corpus entry
//	bcf-db unpack corpus.db dir         write entry inputs to dir, e.g. to use them as seeds
//	bcf-db -from a.db,b.db merge out.db add entries of other databases to out.db
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/bcfuzz/pkg/db"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/tool"
)

var flagFrom tool.ListFlag

func main() {
	flag.Var(&flagFrom, "from", "comma-separated list of databases to merge")
	defer tool.Init()()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	switch {
	case args[0] == "list" && len(args) == 2:
		list(args[1])
	case args[0] == "unpack" && len(args) == 3:
		unpack(args[1], args[2])
	case args[0] == "merge" && len(args) == 2 && len(flagFrom) != 0:
		merge(flagFrom, args[1])
	default:
		usage()
	}
}

func usage() {
	tool.Failf("usage:\n" +
		"  bcf-db list corpus.db\n" +
		"  bcf-db unpack corpus.db dir\n" +
		"  bcf-db -from a.db,b.db merge out.db")
}

func open(file string) *db.DB {
	if !osutil.IsExist(file) {
		tool.Failf("%v does not exist", file)
	}
	corpusDB, err := db.Open(file)
	if err != nil {
		tool.Failf("failed to open database: %v", err)
	}
	return corpusDB
}

func list(file string) {
	corpusDB := open(file)
	type row struct {
		key   string
		entry *flatrpc.CorpusEntry
	}
	var rows []row
	for key, rec := range corpusDB.Records {
		entry, err := flatrpc.UnmarshalCorpusEntry(rec.Val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v: %v\n", key, err)
			continue
		}
		rows = append(rows, row{key, entry})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].entry.Found < rows[j].entry.Found
	})
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "sig\tlen\tedges\tchosen\tchildren\tnovel\tfound\n")
	for _, r := range rows {
		e := r.entry
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n", r.key, humanize.Bytes(uint64(len(e.Input))),
			len(e.Edges), e.Chosen, e.Children, e.Novel, humanize.Time(time.Unix(0, e.Found)))
	}
	w.Flush()
}

func unpack(file, dir string) {
	corpusDB := open(file)
	if err := osutil.MkdirAll(dir); err != nil {
		tool.Fail(err)
	}
	for key, rec := range corpusDB.Records {
		entry, err := flatrpc.UnmarshalCorpusEntry(rec.Val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v: %v\n", key, err)
			continue
		}
		if err := osutil.WriteFile(filepath.Join(dir, key), entry.Input); err != nil {
			tool.Failf("failed to output file: %v", err)
		}
	}
}

func merge(from []string, file string) {
	out, err := db.Open(file)
	if err != nil {
		tool.Failf("failed to open database: %v", err)
	}
	added := 0
	for _, src := range from {
		for key, rec := range open(src).Records {
			if _, ok := out.Records[key]; ok {
				continue
			}
			if _, err := flatrpc.UnmarshalCorpusEntry(rec.Val); err != nil {
				fmt.Fprintf(os.Stderr, "%v: %v: %v\n", src, key, err)
				continue
			}
			out.Save(key, rec.Val, rec.Seq)
			added++
		}
	}
	if err := out.Flush(); err != nil {
		tool.Failf("failed to save database: %v", err)
	}
	fmt.Printf("added %v entries, %v total\n", added, len(out.Records))
}
