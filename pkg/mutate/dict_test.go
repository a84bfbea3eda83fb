// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDict(t *testing.T) {
	data := []byte(`
# comment
kw_if="if"
"\x00\xff"
   magic = "MZ\x90"
"a=b"
`)
	tokens, err := ParseDict(data)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{
		[]byte("if"),
		{0x00, 0xff},
		{'M', 'Z', 0x90},
		[]byte("a=b"),
	}, tokens)

	_, err = ParseDict([]byte("unquoted\n"))
	assert.ErrorContains(t, err, "line 1")
}

func TestLoadDict(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dict")
	require.NoError(t, os.WriteFile(file, []byte(`"GET"`+"\n"), 0o600))
	tokens, err := LoadDict(file)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("GET")}, tokens)
}

func TestDictBounds(t *testing.T) {
	dict := NewDict(2)
	assert.False(t, dict.Add(nil))
	assert.False(t, dict.Add(make([]byte, MaxTokenLen+1)))
	assert.True(t, dict.Add([]byte("a")))
	assert.False(t, dict.Add([]byte("a")))
	assert.True(t, dict.Add([]byte("b")))
	assert.False(t, dict.Add([]byte("c")))
	assert.Equal(t, 2, dict.Len())
}
