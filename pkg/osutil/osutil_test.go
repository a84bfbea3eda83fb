// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cover.xz")
	require.NoError(t, WriteFileAtomic(file, []byte("first")))
	require.NoError(t, WriteFileAtomic(file, []byte("second")))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.False(t, IsExist(file+".tmp"))
	files, err := ListDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"cover.xz"}, files)
}

func TestRunTimeout(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process groups are linux-only here")
	}
	start := time.Now()
	_, err := Run(100*time.Millisecond, Command("sleep", "10"))
	var verr *VerboseError
	require.True(t, errors.As(err, &verr), "err: %v", err)
	assert.Contains(t, verr.Title, "timedout")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSemaphore(t *testing.T) {
	s := NewSemaphore(2)
	assert.True(t, s.TryWait())
	s.Wait()
	assert.False(t, s.TryWait())
	assert.Equal(t, 0, s.Available())
	s.Signal()
	s.Signal()
	assert.Panics(t, s.Signal)
}
