// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/bcfuzz/pkg/db"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/signal"
)

const (
	corpusDBFile    = "corpus.db"
	coverMapFile    = "cover.xz"
	corpusDBVersion = 1
)

type persister struct {
	persistMu sync.Mutex
	db        *db.DB
	dbDir     string
}

func (p *persister) openDB(dir string) (*db.DB, error) {
	if p.db != nil && p.dbDir == dir {
		return p.db, nil
	}
	if err := osutil.MkdirAll(dir); err != nil {
		return nil, err
	}
	corpusDB, err := db.Open(filepath.Join(dir, corpusDBFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus database: %w", err)
	}
	p.db, p.dbDir = corpusDB, dir
	return corpusDB, nil
}

// Save stores all items and the global coverage map in dir.
// Only records that changed since the previous Save are appended to the database.
func (corpus *Corpus) Save(dir string) error {
	corpus.persistMu.Lock()
	defer corpus.persistMu.Unlock()
	corpusDB, err := corpus.openDB(dir)
	if err != nil {
		return err
	}
	items := corpus.Items()
	live := make(map[string]bool, len(items))
	for _, item := range items {
		live[item.Sig] = true
		stats := item.Stats()
		ser := item.Signal.Serialize()
		corpusDB.Save(item.Sig, flatrpc.Marshal(&flatrpc.CorpusEntry{
			Input:     item.Input,
			Edges:     ser.Elems,
			Masks:     ser.Masks,
			Found:     item.Found.UnixNano(),
			Chosen:    stats.Chosen,
			Children:  stats.Children,
			Novel:     stats.Novel,
			Decay:     int32(stats.Decay),
			NewBits:   int32(item.NewBits),
			Fruitless: stats.Fruitless,
		}), item.rev)
	}
	for key := range corpusDB.Records {
		if !live[key] {
			corpusDB.Delete(key)
		}
	}
	if err := corpusDB.BumpVersion(corpusDBVersion); err != nil {
		return fmt.Errorf("failed to flush corpus database: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := corpus.maxMap.WriteTo(buf); err != nil {
		return err
	}
	return osutil.WriteFileAtomic(filepath.Join(dir, coverMapFile), buf.Bytes())
}

// Load restores a corpus saved by Save. It must be called before fuzzing starts.
// Broken records are skipped. Returns the number of restored items.
func (corpus *Corpus) Load(dir string) (int, error) {
	corpus.persistMu.Lock()
	defer corpus.persistMu.Unlock()
	corpusDB, err := corpus.openDB(dir)
	if err != nil {
		return 0, err
	}
	if data, err := os.ReadFile(filepath.Join(dir, coverMapFile)); err == nil {
		if corpus.maxMap.Len() == 0 {
			if _, err := corpus.maxMap.ReadFrom(bytes.NewReader(data)); err != nil {
				corpus.cfg.Logf(0, "ignoring coverage map: %v", err)
			}
		}
	} else if !os.IsNotExist(err) {
		return 0, err
	}
	var items []*Item
	for key, rec := range corpusDB.Records {
		entry, err := flatrpc.UnmarshalCorpusEntry(rec.Val)
		if err != nil {
			corpus.cfg.Logf(0, "dropping corpus record %v: %v", key, err)
			corpusDB.Delete(key)
			continue
		}
		fb := new(feedback)
		fb.chosen.Store(entry.Chosen)
		fb.children.Store(entry.Children)
		fb.novel.Store(entry.Novel)
		fb.decay.Store(entry.Decay)
		fb.fruitless.Store(entry.Fruitless)
		items = append(items, &Item{
			Sig:     key,
			Input:   entry.Input,
			Signal:  signal.Serial{Elems: entry.Edges, Masks: entry.Masks}.Deserialize(),
			NewBits: int(entry.NewBits),
			Found:   time.Unix(0, entry.Found),
			rev:     rec.Seq,
			fb:      fb,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Found.Before(items[j].Found)
	})
	corpus.mu.Lock()
	for _, item := range items {
		if !fits(item.Signal, corpus.maxMap.Capacity()) {
			corpus.cfg.Logf(0, "dropping corpus record %v: edges out of range", item.Sig)
			continue
		}
		// The map may be older than the database after an unclean shutdown.
		corpus.maxMap.Merge(item.Signal)
		corpus.seq++
		item.Seq = corpus.seq
		corpus.items[item.Sig] = item
	}
	corpus.energyList.invalidate()
	n := len(corpus.items)
	corpus.mu.Unlock()
	return n, nil
}

// Close flushes the crash archive and releases the database.
func (corpus *Corpus) Close() {
	corpus.crashArchive.Close()
	corpus.persistMu.Lock()
	corpus.db = nil
	corpus.persistMu.Unlock()
}

func fits(sig signal.Signal, capacity int) bool {
	for e := range sig {
		if int(e) >= capacity {
			return false
		}
	}
	return true
}
