// Package backup implements the per-subspace backup-stream format used to
// export and restore one subspace's keys: a small header identifying the
// subspace and its schema version, followed by repeated length-prefixed
// key/value pairs.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package backup

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
)

// MagicMarker begins every backup-stream file, before the per-subspace
// header fields.
const MagicMarker byte = 0xB5

// Header is the fixed-size prefix of one subspace's backup stream.
type Header struct {
	Subspace      kv.Subspace
	SchemaVersion uint32
}

// Entry is one key/value pair read back off the stream.
type Entry struct {
	Key   []byte
	Value []byte
}

// ReadHeader consumes `MAGIC_MARKER:u8 subspace:u8 schema-version:u32le`
// from r.
func ReadHeader(r *bufio.Reader) (Header, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return Header{}, cmn.CausedBy("backup.ReadHeader", err)
	}
	if marker != MagicMarker {
		return Header{}, &cmn.CorruptKeyError{Reason: "bad magic marker"}
	}
	sub, err := r.ReadByte()
	if err != nil {
		return Header{}, cmn.CausedBy("backup.ReadHeader", err)
	}
	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return Header{}, cmn.CausedBy("backup.ReadHeader", err)
	}
	return Header{
		Subspace:      kv.Subspace(sub),
		SchemaVersion: binary.LittleEndian.Uint32(verBuf[:]),
	}, nil
}

// WriteHeader is ReadHeader's inverse, used by the (out-of-scope) export
// side and by tests constructing fixtures.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, 0, 6)
	buf = append(buf, MagicMarker, byte(h.Subspace))
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], h.SchemaVersion)
	buf = append(buf, verBuf[:]...)
	_, err := w.Write(buf)
	return err
}

// EntryFunc is called once per decoded Entry. Returning an error aborts
// the scan.
type EntryFunc func(Entry) error

// ReadEntries consumes `len:leb128 key-bytes len:leb128 value-bytes`
// records from r until EOF, calling fn for each.
func ReadEntries(r *bufio.Reader, fn EntryFunc) error {
	for {
		key, err := readLenPrefixed(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return cmn.CausedBy("backup.ReadEntries", err)
		}
		value, err := readLenPrefixed(r)
		if err != nil {
			return cmn.CausedBy("backup.ReadEntries", err)
		}
		if err := fn(Entry{Key: key, Value: value}); err != nil {
			return err
		}
	}
}

// WriteEntry appends one len-prefixed key/value pair to w.
func WriteEntry(w io.Writer, e Entry) error {
	if err := writeLenPrefixed(w, e.Key); err != nil {
		return err
	}
	return writeLenPrefixed(w, e.Value)
}

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// IsAdditive reports whether sub's values must be converted into additive
// ops on import rather than overwritten verbatim (COUNTER and QUOTA are
// only ever changed by additive ops, so a restore applies the difference
// between the recorded value and the current one).
func IsAdditive(sub kv.Subspace) bool {
	return sub == kv.COUNTER || sub == kv.QUOTA
}
