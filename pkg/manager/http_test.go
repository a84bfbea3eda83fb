// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/fuzzer"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/mgrconfig"
	"github.com/google/bcfuzz/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, url string) (int, string) {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHTTPNotStarted(t *testing.T) {
	serv := &HTTPServer{
		Cfg:       &mgrconfig.Config{Name: "test"},
		StartTime: time.Now(),
	}
	h := serv.Handler()
	code, body := get(t, h, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "test")
	for _, url := range []string{"/corpus", "/input?sig=x", "/crash?sig=x", "/workers"} {
		code, _ := get(t, h, url)
		assert.Equal(t, http.StatusServiceUnavailable, code, url)
	}
	code, _ = get(t, h, "/nonexistent")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHTTPPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	corp := corpus.NewCorpus(ctx, corpus.Config{Capacity: 64})
	defer corp.Close()
	ok, item := corp.Consider([]byte("abc\x00"), signal.Signal{1: 1, 2: 3})
	require.True(t, ok)
	require.True(t, corp.RecordCrash([]byte("crash"), corpus.Fault{
		Category:  "IndexError",
		Signature: "0123abcd",
		Detail:    "index 7 out of range",
	}))
	fz := fuzzer.NewFuzzer(ctx, &fuzzer.Config{Corpus: corp}, rand.New(rand.NewSource(0)))
	serv := &HTTPServer{
		Cfg: &mgrconfig.Config{
			Name:        "test",
			Workdir:     "/tmp/workdir",
			MaxInputLen: 8,
		},
		Session:   "session-id",
		StartTime: time.Now(),
	}
	serv.Corpus.Store(corp)
	serv.Fuzzer.Store(fz)
	h := serv.Handler()

	code, body := get(t, h, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "session-id")
	assert.Contains(t, body, "0123abcd")
	assert.Contains(t, body, "IDLE")

	code, body = get(t, h, "/corpus")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, item.Sig[:8])

	code, body = get(t, h, "/input?sig="+item.Sig+"&raw=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "abc\x00", body)
	code, body = get(t, h, "/input?sig="+item.Sig)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "61 62 63 00")
	code, body = get(t, h, "/input?sig="+strings.ToUpper(item.Sig)+"&raw=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "abc\x00", body)
	code, _ = get(t, h, "/input?sig=nope")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, h, "/input?sig="+hash.String([]byte("missing")))
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, h, "/crash?sig=0123abcd")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "index 7 out of range")
	code, body = get(t, h, "/crash?sig=0123abcd&file=input&raw=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "crash", body)

	code, body = get(t, h, "/config?raw=1")
	assert.Equal(t, http.StatusOK, code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &cfg))
	assert.Equal(t, "/tmp/workdir", cfg["workdir"])

	code, body = get(t, h, "/stats?raw=1")
	assert.Equal(t, http.StatusOK, code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, 1, stats["corpus"])

	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "bcf_corpus_size")

	code, _ = get(t, h, "/jobs")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/jobs?id=nope")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHTTPAddCandidate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	corp := corpus.NewCorpus(ctx, corpus.Config{Capacity: 64})
	defer corp.Close()
	fz := fuzzer.NewFuzzer(ctx, &fuzzer.Config{Corpus: corp}, rand.New(rand.NewSource(0)))
	serv := &HTTPServer{Cfg: &mgrconfig.Config{MaxInputLen: 8}}
	serv.Fuzzer.Store(fz)
	h := serv.Handler()

	code, _ := get(t, h, "/addcandidate")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/addcandidate", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, post("seed"))
	assert.Equal(t, 1, fz.CandidatesToTriage())
	assert.Equal(t, http.StatusBadRequest, post("too long input"))
	assert.Equal(t, 1, fz.CandidatesToTriage())
}
