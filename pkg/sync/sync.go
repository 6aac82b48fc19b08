// Package sync implements a generic fallback for moving a model.Slice
// between repositories when no domain-specific transport is wired up:
// Fetch/Push themselves are out of scope (wire protocol is a
// non-goal), but the bundle format that an external transport would
// move opaquely is grove's to provide. It uses the top-level xz
// container format since grove moves whole slices at once rather than
// a stream of independent chunks.
package sync

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/grovevc/grove/pkg/codec"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
)

// Bundle frame tags. Each frame is a tag byte, the object's 32-byte
// hash, a 4-byte big-endian payload length and the payload; node and
// commit payloads are their pkg/codec encodings.
const (
	tagContents byte = 1
	tagNode     byte = 2
	tagCommit   byte = 3
)

// ExportBundle serialises slice and compresses it with xz, producing a
// single opaque blob an external transport can move without
// understanding grove's object model.
func ExportBundle(slice model.Slice) ([]byte, error) {
	var raw bytes.Buffer
	for h, b := range slice.Contents {
		writeFramed(&raw, tagContents, h, b)
	}
	for h, n := range slice.Nodes {
		writeFramed(&raw, tagNode, h, codec.EncodeNode(n))
	}
	for h, c := range slice.Commits {
		writeFramed(&raw, tagCommit, h, codec.EncodeCommit(c))
	}

	var compressed bytes.Buffer
	w, err := xz.NewWriter(&compressed)
	if err != nil {
		return nil, fmt.Errorf("sync: export: %w", err)
	}
	if _, err := w.Write(raw.Bytes()); err != nil {
		w.Close()
		return nil, fmt.Errorf("sync: export: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sync: export: %w", err)
	}
	return compressed.Bytes(), nil
}

// ImportBundle is ExportBundle's inverse.
func ImportBundle(bundle []byte) (model.Slice, error) {
	r, err := xz.NewReader(bytes.NewReader(bundle))
	if err != nil {
		return model.Slice{}, fmt.Errorf("sync: import: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return model.Slice{}, fmt.Errorf("sync: import: %w", err)
	}

	slice := model.NewSlice()
	buf := raw
	for len(buf) > 0 {
		if len(buf) < 1+hash.Size+4 {
			return model.Slice{}, fmt.Errorf("sync: import: truncated bundle")
		}
		tag := buf[0]
		h, err := hash.FromBytes(buf[1 : 1+hash.Size])
		if err != nil {
			return model.Slice{}, fmt.Errorf("sync: import: %w", err)
		}
		off := 1 + hash.Size
		n := be32(buf[off : off+4])
		off += 4
		if len(buf) < off+n {
			return model.Slice{}, fmt.Errorf("sync: import: truncated payload")
		}
		payload := buf[off : off+n]
		buf = buf[off+n:]

		switch tag {
		case tagContents:
			slice.Contents[h] = append([]byte(nil), payload...)
		case tagNode:
			node, err := codec.DecodeNode(payload)
			if err != nil {
				return model.Slice{}, fmt.Errorf("sync: import: %w", err)
			}
			slice.Nodes[h] = node
		case tagCommit:
			commit, err := codec.DecodeCommit(payload)
			if err != nil {
				return model.Slice{}, fmt.Errorf("sync: import: %w", err)
			}
			slice.Commits[h] = commit
		default:
			return model.Slice{}, fmt.Errorf("sync: import: unknown frame tag %d", tag)
		}
	}
	return slice, nil
}

func writeFramed(buf *bytes.Buffer, tag byte, h hash.Hash, payload []byte) {
	buf.WriteByte(tag)
	buf.Write(h.Bytes())
	var lenBytes [4]byte
	putBE32(lenBytes[:], len(payload))
	buf.Write(lenBytes[:])
	buf.Write(payload)
}

func putBE32(b []byte, v int) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func be32(b []byte) int {
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
}
