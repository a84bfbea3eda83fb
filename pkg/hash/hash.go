// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash provides the content hashes used as corpus keys and crash signatures.
package hash

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

type Sig [sha1.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

func (sig Sig) String() string {
	return hex.EncodeToString(sig[:])
}

// Short is the prefix used in log lines and directory names.
func (sig Sig) Short() string {
	return hex.EncodeToString(sig[:6])
}

// Truncate64 returns first 64 bits of the hash as int64.
func (sig Sig) Truncate64() int64 {
	return int64(binary.LittleEndian.Uint64(sig[:8]))
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig %q: %w", str, err)
	}
	return FromBytes(bin)
}

func FromBytes(bin []byte) (Sig, error) {
	var sig Sig
	if len(bin) != len(sig) {
		return Sig{}, fmt.Errorf("bad signature length %v", len(bin))
	}
	copy(sig[:], bin)
	return sig, nil
}
