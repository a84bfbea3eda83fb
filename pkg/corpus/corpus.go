// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus keeps the inputs that reached new coverage, the global coverage
// map they were measured against, and the archive of unique crashes.
package corpus

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/signal"
	"github.com/google/bcfuzz/pkg/stat"
)

type Config struct {
	// Capacity of the global coverage map, must cover all edge IDs of the target.
	Capacity int
	// Directory of the crash archive, crashes are kept in memory only if empty.
	CrashDir string
	// Number of fruitless children after which an entry's energy is decayed.
	DecayWindow int
	// Maximum number of decay steps, each halves the energy.
	MaxDecay int
	Logf     func(level int, msg string, args ...any)
}

const (
	DefaultDecayWindow = 256
	DefaultMaxDecay    = 8
)

// Corpus object represents a set of inputs that cover the target
// up to the currently reached frontiers.
type Corpus struct {
	cfg     Config
	ctx     context.Context
	maxMap  *cover.Map
	updates chan<- NewItemEvent

	mu    sync.RWMutex
	items map[string]*Item
	seq   int64
	energyList

	crashArchive
	persister

	StatItems   *stat.Val
	StatEdges   *stat.Val
	StatSignal  *stat.Val
	StatCrashes *stat.Val
	statAccept  *stat.Val
	statReject  *stat.Val
}

func NewCorpus(ctx context.Context, cfg Config) *Corpus {
	return NewMonitoredCorpus(ctx, cfg, nil)
}

// NewMonitoredCorpus sends an event for every accepted input to updates.
func NewMonitoredCorpus(ctx context.Context, cfg Config, updates chan<- NewItemEvent) *Corpus {
	if cfg.DecayWindow <= 0 {
		cfg.DecayWindow = DefaultDecayWindow
	}
	if cfg.MaxDecay <= 0 {
		cfg.MaxDecay = DefaultMaxDecay
	}
	if cfg.Logf == nil {
		cfg.Logf = func(int, string, ...any) {}
	}
	corpus := &Corpus{
		cfg:     cfg,
		ctx:     ctx,
		maxMap:  cover.NewMap(cfg.Capacity),
		updates: updates,
		items:   make(map[string]*Item),
	}
	corpus.crashArchive.init(cfg.CrashDir, cfg.Logf)
	corpus.StatItems = stat.New("corpus", "Number of inputs in the corpus", stat.Console,
		stat.Prometheus("bcf_corpus_size"), func() int {
			corpus.mu.RLock()
			defer corpus.mu.RUnlock()
			return len(corpus.items)
		})
	corpus.StatEdges = stat.New("coverage", "Edges covered by the corpus", stat.Console,
		stat.Prometheus("bcf_edges"), func() int {
			return corpus.maxMap.Len()
		})
	corpus.StatSignal = stat.New("signal", "Covered edge/hit-count bucket pairs",
		stat.Prometheus("bcf_signal"), func() int {
			return corpus.maxMap.Bits()
		})
	corpus.StatCrashes = stat.New("crash types", "Number of unique crash signatures", stat.Console,
		stat.Prometheus("bcf_crash_types"), func() int {
			return corpus.crashArchive.count()
		})
	corpus.statAccept = stat.New("accepted", "Inputs accepted into the corpus", stat.Rate{})
	corpus.statReject = stat.New("rejected", "Inputs without new coverage", stat.Rate{})
	return corpus
}

// Item is a corpus entry. Input and Signal are immutable,
// the feedback counters are updated atomically.
type Item struct {
	Sig    string
	Input  []byte
	Signal signal.Signal
	// Number of edge/bucket pairs that were new when the item was accepted.
	NewBits int
	// Order of acceptance, larger is newer.
	Seq   int64
	Found time.Time

	// Bumped on every signal update, used to skip unchanged items on Save.
	rev uint64
	// Shared by all versions of the item.
	fb *feedback
}

type feedback struct {
	chosen    atomic.Int64
	children  atomic.Int64
	novel     atomic.Int64
	fruitless atomic.Int64
	decay     atomic.Int32
}

// ItemStats is a snapshot of the feedback counters of an item.
type ItemStats struct {
	Chosen   int64
	Children int64
	Novel    int64
	// Children since the last novel one.
	Fruitless int64
	Decay     int
}

func (item *Item) Stats() ItemStats {
	return ItemStats{
		Chosen:    item.fb.chosen.Load(),
		Children:  item.fb.children.Load(),
		Novel:     item.fb.novel.Load(),
		Fruitless: item.fb.fruitless.Load(),
		Decay:     int(item.fb.decay.Load()),
	}
}

type NewItemEvent struct {
	Sig     string
	Exists  bool
	NewBits int
	Input   []byte
}

// Consider accepts the input iff sig has an edge or a hit-count bucket that is not
// yet in the global coverage map. The check does not take locks and the merge is
// an atomic OR, so two concurrent calls with the same new coverage may both be accepted.
// The map ends up the same either way.
func (corpus *Corpus) Consider(input []byte, sig signal.Signal) (bool, *Item) {
	newBits := corpus.maxMap.NewBits(sig)
	if newBits.Empty() {
		corpus.statReject.Add(1)
		return false, nil
	}
	corpus.maxMap.Merge(sig)
	corpus.statAccept.Add(1)
	return true, corpus.save(input, sig, newBits.Bits())
}

func (corpus *Corpus) save(input []byte, sig signal.Signal, newBits int) *Item {
	key := hash.String(input)
	corpus.mu.Lock()
	item, exists := corpus.items[key]
	if exists {
		// The same input may come back with different (flaky) coverage.
		merged := item.Signal.Copy()
		merged.Merge(sig)
		updated := *item
		updated.Signal = merged
		updated.rev++
		item = &updated
		corpus.items[key] = item
	} else {
		corpus.seq++
		item = &Item{
			Sig:     key,
			Input:   append([]byte{}, input...),
			Signal:  sig.Copy(),
			NewBits: newBits,
			Seq:     corpus.seq,
			Found:   time.Now(),
			rev:     1,
			fb:      new(feedback),
		}
		corpus.items[key] = item
	}
	corpus.energyList.invalidate()
	corpus.mu.Unlock()
	corpus.cfg.Logf(2, "corpus: accepted input %v (%v bytes, %v new bits, exists=%v)",
		key[:8], len(input), newBits, exists)
	if corpus.updates != nil {
		select {
		case <-corpus.ctx.Done():
		case corpus.updates <- NewItemEvent{
			Sig:     key,
			Exists:  exists,
			NewBits: newBits,
			Input:   item.Input,
		}:
		}
	}
	return item
}

// HasNew is a read-only version of Consider.
func (corpus *Corpus) HasNew(sig signal.Signal) bool {
	return corpus.maxMap.HasNew(sig)
}

// NewBits returns the part of sig that is not in the global coverage map.
func (corpus *Corpus) NewBits(sig signal.Signal) signal.Signal {
	return corpus.maxMap.NewBits(sig)
}

// Signal returns a copy of the global coverage map.
func (corpus *Corpus) Signal() signal.Signal {
	return corpus.maxMap.Signal()
}

func (corpus *Corpus) Items() []*Item {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	ret := make([]*Item, 0, len(corpus.items))
	for _, item := range corpus.items {
		ret = append(ret, item)
	}
	return ret
}

func (corpus *Corpus) Item(sig string) *Item {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.items[sig]
}

// RandomInput returns the input of a uniformly chosen item, nil if the corpus is empty.
// Unlike Select it does not count as a choice of the item.
func (corpus *Corpus) RandomInput(r *rand.Rand) []byte {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	if len(corpus.list) == 0 {
		// The list is built on the first Select.
		for _, item := range corpus.items {
			return item.Input
		}
		return nil
	}
	return corpus.list[r.Intn(len(corpus.list))].Input
}

func (corpus *Corpus) Capacity() int {
	return corpus.maxMap.Capacity()
}

// Inputs returns inputs of all items.
func (corpus *Corpus) Inputs() [][]byte {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	ret := make([][]byte, 0, len(corpus.items))
	for _, item := range corpus.items {
		ret = append(ret, item.Input)
	}
	return ret
}

// Stats is a snapshot of the relevant current state figures.
type Stats struct {
	Items   int
	Edges   int
	Signal  int
	Crashes int
}

func (corpus *Corpus) Stats() Stats {
	corpus.mu.RLock()
	items := len(corpus.items)
	corpus.mu.RUnlock()
	return Stats{
		Items:   items,
		Edges:   corpus.maxMap.Len(),
		Signal:  corpus.maxMap.Bits(),
		Crashes: corpus.crashArchive.count(),
	}
}
