// Package archive implements the canonical on-disk encoding for documents:
// a small self-describing envelope around a JSON-iterator payload,
// versioned so the object index builder can stamp a monotonically
// increasing version into every archive header, and checksummed so
// corruption is caught at decode time rather than silently propagated.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package archive

import (
	"encoding/binary"
	"hash/crc32"

	jsoniter "github.com/json-iterator/go"

	"github.com/stalwartgo/core/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Signature identifies bytes produced by this package, distinguishing a
// genuine archive from an unrelated value that happened to land in the
// PROPERTY subspace.
const signature = "STWT"

// headerLen is signature(4) + version(u32le) + payload checksum(u32le).
const headerLen = 4 + 4 + 4

// Versioned lets an object stamp its own monotonically increasing schema
// version into the archive header.
type Versioned interface {
	ArchiveVersion() uint32
}

// Encode serializes v into the envelope: signature | version | crc32(payload) | payload.
func Encode(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, cmn.CausedBy("archive.Encode", err)
	}
	var version uint32
	if vv, ok := v.(Versioned); ok {
		version = vv.ArchiveVersion()
	}
	out := make([]byte, 0, headerLen+len(payload))
	out = append(out, signature...)
	var vb, cb [4]byte
	binary.LittleEndian.PutUint32(vb[:], version)
	out = append(out, vb[:]...)
	binary.LittleEndian.PutUint32(cb[:], crc32.ChecksumIEEE(payload))
	out = append(out, cb[:]...)
	out = append(out, payload...)
	return out, nil
}

// Decode validates the envelope and unmarshals the payload into v,
// returning the archive's stamped version.
func Decode(data []byte, v interface{}) (version uint32, err error) {
	if len(data) < headerLen || string(data[:4]) != signature {
		return 0, &cmn.CorruptKeyError{Reason: "missing or bad archive signature"}
	}
	version = binary.LittleEndian.Uint32(data[4:8])
	wantCksum := binary.LittleEndian.Uint32(data[8:12])
	payload := data[headerLen:]
	if crc32.ChecksumIEEE(payload) != wantCksum {
		return 0, &cmn.CorruptKeyError{Reason: "archive checksum mismatch"}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return 0, cmn.CausedBy("archive.Decode", err)
	}
	return version, nil
}

// Equal reports whether two encoded archives are byte-identical, header
// included (so equal payloads stamped with different versions compare
// unequal), used by assert_value preconditions that compare against a
// previously read archive.
func Equal(a, b []byte) bool {
	return string(a) == string(b)
}
