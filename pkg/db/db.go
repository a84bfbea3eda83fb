// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package db implements a simple append-only key-value database.
// The database is cached in memory and mirrored on disk: updates are buffered
// and appended on Flush, and the file is rewritten when it accumulates too many
// stale records. Every record carries a checksum, so a torn tail left by a crash
// is dropped on the next Open instead of corrupting the rest.
// The manager stores corpus entries in it. DB is not safe for concurrent use.
package db

import (
	"bufio"
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/osutil"
)

type DB struct {
	Version uint64            // arbitrary user version (0 for new database)
	Records map[string]Record // in-memory cache, must not be modified directly

	filename    string
	uncompacted int
	pending     *bytes.Buffer
}

type Record struct {
	Val []byte
	Seq uint64
}

const (
	fileMagic  = uint32(0xbcfdb001)
	recMagic   = uint32(0xbcf0feed)
	seqDeleted = ^uint64(0)
	maxKeyLen  = 1 << 10
	maxValLen  = 64 << 20
)

func Open(filename string) (*DB, error) {
	db := &DB{
		filename: filename,
		Records:  make(map[string]Record),
	}
	f, err := os.OpenFile(filename, os.O_RDONLY|os.O_CREATE, osutil.DefaultFilePerm)
	if err != nil {
		return nil, err
	}
	err = db.load(bufio.NewReader(f))
	f.Close()
	if err != nil {
		log.Errorf("%v: %v, dropping the rest of the file", filename, err)
	}
	if err != nil || len(db.Records) == 0 || db.needCompaction() {
		if err := db.compact(); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) Save(key string, val []byte, seq uint64) {
	if seq == seqDeleted {
		panic("reserved seq")
	}
	if len(key) > maxKeyLen || len(val) > maxValLen {
		panic(fmt.Sprintf("too large record: key %v, value %v", len(key), len(val)))
	}
	if rec, ok := db.Records[key]; ok && seq == rec.Seq && bytes.Equal(val, rec.Val) {
		return
	}
	db.Records[key] = Record{val, seq}
	db.append(key, val, seq)
}

func (db *DB) Delete(key string) {
	if _, ok := db.Records[key]; !ok {
		return
	}
	delete(db.Records, key)
	db.append(key, nil, seqDeleted)
}

// Flush makes all previous updates durable.
func (db *DB) Flush() error {
	if db.needCompaction() {
		return db.compact()
	}
	if db.pending == nil {
		return nil
	}
	f, err := os.OpenFile(db.filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, osutil.DefaultFilePerm)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(db.pending.Bytes()); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	db.pending = nil
	return nil
}

func (db *DB) BumpVersion(version uint64) error {
	if db.Version == version {
		return db.Flush()
	}
	db.Version = version
	return db.compact()
}

func (db *DB) needCompaction() bool {
	return db.uncompacted/10*9 > len(db.Records)
}

func (db *DB) append(key string, val []byte, seq uint64) {
	if db.pending == nil {
		db.pending = new(bytes.Buffer)
	}
	writeRecord(db.pending, key, val, seq)
	db.uncompacted++
}

func (db *DB) compact() error {
	buf := new(bytes.Buffer)
	writeHeader(buf, db.Version)
	for key, rec := range db.Records {
		writeRecord(buf, key, rec.Val, rec.Seq)
	}
	if err := osutil.WriteFileAtomic(db.filename, buf.Bytes()); err != nil {
		return err
	}
	db.uncompacted = len(db.Records)
	db.pending = nil
	return nil
}

func writeHeader(w *bytes.Buffer, version uint64) {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], fileMagic)
	binary.LittleEndian.PutUint64(hdr[4:], version)
	w.Write(hdr[:])
}

// Record layout: magic, key len, value len (compressed), seq, crc, key, value.
// The crc covers key len..value.
func writeRecord(w *bytes.Buffer, key string, val []byte, seq uint64) {
	var comp []byte
	if seq != seqDeleted && len(val) != 0 {
		buf := new(bytes.Buffer)
		fw, err := flate.NewWriter(buf, flate.BestCompression)
		if err != nil {
			panic(err)
		}
		fw.Write(val)
		fw.Close()
		comp = buf.Bytes()
	}
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:], recMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(comp)))
	binary.LittleEndian.PutUint64(hdr[12:], seq)
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:20])
	crc.Write([]byte(key))
	crc.Write(comp)
	binary.LittleEndian.PutUint32(hdr[20:], crc.Sum32())
	w.Write(hdr[:])
	w.WriteString(key)
	w.Write(comp)
}

func (db *DB) load(r *bufio.Reader) error {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to read header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != fileMagic {
		return fmt.Errorf("bad db header: 0x%x", magic)
	}
	db.Version = binary.LittleEndian.Uint64(hdr[4:])
	for {
		key, val, seq, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		db.uncompacted++
		if seq == seqDeleted {
			delete(db.Records, key)
		} else {
			db.Records[key] = Record{val, seq}
		}
	}
}

func readRecord(r *bufio.Reader) (key string, val []byte, seq uint64, err error) {
	var hdr [24]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("truncated record header")
		}
		return
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != recMagic {
		err = fmt.Errorf("bad record header: 0x%x", magic)
		return
	}
	keyLen := binary.LittleEndian.Uint32(hdr[4:])
	valLen := binary.LittleEndian.Uint32(hdr[8:])
	seq = binary.LittleEndian.Uint64(hdr[12:])
	if keyLen > maxKeyLen || valLen > maxValLen {
		err = fmt.Errorf("bad record lengths: key %v, value %v", keyLen, valLen)
		return
	}
	body := make([]byte, keyLen+valLen)
	if _, err = io.ReadFull(r, body); err != nil {
		err = fmt.Errorf("truncated record: %v", err)
		return
	}
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:20])
	crc.Write(body)
	if crc.Sum32() != binary.LittleEndian.Uint32(hdr[20:]) {
		err = fmt.Errorf("record checksum mismatch")
		return
	}
	key = string(body[:keyLen])
	if valLen != 0 {
		fr := flate.NewReader(bytes.NewReader(body[keyLen:]))
		val, err = io.ReadAll(fr)
		fr.Close()
		if err != nil {
			err = fmt.Errorf("failed to decompress record %q: %w", key, err)
		}
	}
	return
}
