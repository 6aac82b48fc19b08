// Package codec implements grove's canonical byte encoding for the
// hashed object types (Node, Commit). Encoding is driven by hand using
// google.golang.org/protobuf/encoding/protowire's low-level primitives
// rather than generated .pb.go stubs: field numbers fix the canonical
// field order, and entries/parents are written in the sorted/preserved
// order the spec requires for deterministic hashing. The wire format
// is a valid (if hand-assembled) protobuf encoding, so it stays
// readable by standard protobuf tooling if the types are ever given a
// .proto definition.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
)

// Node wire field numbers.
const (
	fieldNodeEntry protowire.Number = 1
)

// Entry submessage field numbers.
const (
	fieldEntryStep     protowire.Number = 1
	fieldEntryKind     protowire.Number = 2
	fieldEntryHash     protowire.Number = 3
	fieldEntryMetadata protowire.Number = 4
)

// Commit wire field numbers.
const (
	fieldCommitNode   protowire.Number = 1
	fieldCommitParent protowire.Number = 2
	fieldCommitTask   protowire.Number = 3
)

// Task submessage field numbers.
const (
	fieldTaskDate     protowire.Number = 1
	fieldTaskOwner    protowire.Number = 2
	fieldTaskUID      protowire.Number = 3
	fieldTaskMessage  protowire.Number = 4
	fieldTaskTraceID  protowire.Number = 5
)

// EncodeNode produces the canonical bytes for n. Entries are written
// in sorted-step order regardless of map iteration order, which is
// what makes HashNode deterministic.
func EncodeNode(n model.Node) []byte {
	var buf []byte
	for _, step := range n.SortedSteps() {
		e := n.Entries[step]
		entry := encodeEntry(step, e)
		buf = protowire.AppendTag(buf, fieldNodeEntry, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}
	return buf
}

func encodeEntry(step model.Step, e model.Entry) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldEntryStep, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(step))
	buf = protowire.AppendTag(buf, fieldEntryKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.Kind))
	buf = protowire.AppendTag(buf, fieldEntryHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Hash[:])
	if e.Kind == model.KindContents && len(e.Metadata) > 0 {
		buf = protowire.AppendTag(buf, fieldEntryMetadata, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.Metadata)
	}
	return buf
}

// DecodeNode parses bytes produced by EncodeNode.
func DecodeNode(b []byte) (model.Node, error) {
	entries := make(map[model.Step]model.Entry)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Node{}, fmt.Errorf("codec: decode node: bad tag")
		}
		b = b[n:]
		if num != fieldNodeEntry || typ != protowire.BytesType {
			return model.Node{}, fmt.Errorf("codec: decode node: unexpected field %d", num)
		}
		entryBytes, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return model.Node{}, fmt.Errorf("codec: decode node: bad entry length")
		}
		b = b[n:]
		step, entry, err := decodeEntry(entryBytes)
		if err != nil {
			return model.Node{}, err
		}
		entries[step] = entry
	}
	return model.NewNode(entries), nil
}

func decodeEntry(b []byte) (model.Step, model.Entry, error) {
	var step model.Step
	var e model.Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", model.Entry{}, fmt.Errorf("codec: decode entry: bad tag")
		}
		b = b[n:]
		switch {
		case num == fieldEntryStep && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", model.Entry{}, fmt.Errorf("codec: decode entry: bad step")
			}
			b = b[n:]
			step = model.Step(v)
		case num == fieldEntryKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", model.Entry{}, fmt.Errorf("codec: decode entry: bad kind")
			}
			b = b[n:]
			e.Kind = model.EntryKind(v)
		case num == fieldEntryHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", model.Entry{}, fmt.Errorf("codec: decode entry: bad hash")
			}
			b = b[n:]
			h, err := hash.FromBytes(v)
			if err != nil {
				return "", model.Entry{}, fmt.Errorf("codec: decode entry: %w", err)
			}
			e.Hash = h
		case num == fieldEntryMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", model.Entry{}, fmt.Errorf("codec: decode entry: bad metadata")
			}
			b = b[n:]
			e.Metadata = append([]byte(nil), v...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", model.Entry{}, fmt.Errorf("codec: decode entry: unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return step, e, nil
}

// EncodeCommit produces the canonical bytes for c. Parent order is
// preserved verbatim (it is semantically significant — "main parent"
// — and must never be normalized).
func EncodeCommit(c model.Commit) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldCommitNode, protowire.BytesType)
	buf = protowire.AppendBytes(buf, c.NodeHash[:])
	for _, p := range c.Parents {
		buf = protowire.AppendTag(buf, fieldCommitParent, protowire.BytesType)
		buf = protowire.AppendBytes(buf, p[:])
	}
	task := encodeTask(c.Task)
	buf = protowire.AppendTag(buf, fieldCommitTask, protowire.BytesType)
	buf = protowire.AppendBytes(buf, task)
	return buf
}

func encodeTask(t model.Task) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldTaskDate, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(t.Date))
	buf = protowire.AppendTag(buf, fieldTaskOwner, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(t.Owner))
	buf = protowire.AppendTag(buf, fieldTaskUID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(t.UID))
	for _, m := range t.Messages {
		buf = protowire.AppendTag(buf, fieldTaskMessage, protowire.BytesType)
		buf = protowire.AppendBytes(buf, []byte(m))
	}
	if t.TraceID != "" {
		buf = protowire.AppendTag(buf, fieldTaskTraceID, protowire.BytesType)
		buf = protowire.AppendBytes(buf, []byte(t.TraceID))
	}
	return buf
}

// DecodeCommit parses bytes produced by EncodeCommit.
func DecodeCommit(b []byte) (model.Commit, error) {
	var c model.Commit
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Commit{}, fmt.Errorf("codec: decode commit: bad tag")
		}
		b = b[n:]
		switch {
		case num == fieldCommitNode && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Commit{}, fmt.Errorf("codec: decode commit: bad node hash")
			}
			b = b[n:]
			h, err := hash.FromBytes(v)
			if err != nil {
				return model.Commit{}, fmt.Errorf("codec: decode commit: %w", err)
			}
			c.NodeHash = h
		case num == fieldCommitParent && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Commit{}, fmt.Errorf("codec: decode commit: bad parent")
			}
			b = b[n:]
			h, err := hash.FromBytes(v)
			if err != nil {
				return model.Commit{}, fmt.Errorf("codec: decode commit: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case num == fieldCommitTask && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Commit{}, fmt.Errorf("codec: decode commit: bad task")
			}
			b = b[n:]
			task, err := decodeTask(v)
			if err != nil {
				return model.Commit{}, err
			}
			c.Task = task
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.Commit{}, fmt.Errorf("codec: decode commit: unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func decodeTask(b []byte) (model.Task, error) {
	var t model.Task
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Task{}, fmt.Errorf("codec: decode task: bad tag")
		}
		b = b[n:]
		switch {
		case num == fieldTaskDate && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return model.Task{}, fmt.Errorf("codec: decode task: bad date")
			}
			b = b[n:]
			t.Date = int64(v)
		case num == fieldTaskOwner && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Task{}, fmt.Errorf("codec: decode task: bad owner")
			}
			b = b[n:]
			t.Owner = string(v)
		case num == fieldTaskUID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return model.Task{}, fmt.Errorf("codec: decode task: bad uid")
			}
			b = b[n:]
			t.UID = int64(v)
		case num == fieldTaskMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Task{}, fmt.Errorf("codec: decode task: bad message")
			}
			b = b[n:]
			t.Messages = append(t.Messages, string(v))
		case num == fieldTaskTraceID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Task{}, fmt.Errorf("codec: decode task: bad trace id")
			}
			b = b[n:]
			t.TraceID = string(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.Task{}, fmt.Errorf("codec: decode task: unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return t, nil
}

// HashNode returns the content-address of n.
func HashNode(n model.Node) hash.Hash {
	return hash.Sum(EncodeNode(n))
}

// HashCommit returns the content-address of c.
func HashCommit(c model.Commit) hash.Hash {
	return hash.Sum(EncodeCommit(c))
}

// HashContents returns the content-address of raw contents bytes.
// Contents have no envelope: their serialisation is their own bytes.
func HashContents(b []byte) hash.Hash {
	return hash.Sum(b)
}
