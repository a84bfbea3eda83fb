// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	sig := Hash([]byte("hang"), []byte("demo.fuzz"))
	assert.Equal(t, sig, Hash([]byte("hangdemo.fuzz")))
	parsed, err := FromString(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
	assert.Len(t, sig.Short(), 12)

	_, err = FromString("abc")
	assert.Error(t, err)
	_, err = FromBytes(sig[:4])
	assert.Error(t, err)
}
