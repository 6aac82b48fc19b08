// Package blob is a ready-to-use model.ContentsCodec over raw bytes,
// for applications that don't need a custom domain Contents type.
// Grounded on internal/chunker/chunker.go's boxoChunkerWrapper
// (github.com/ipfs/boxo/chunker's buzhash content-defined splitter):
// large payloads are split into content-addressed sub-blocks purely as
// a storage optimization invisible at the Contents interface boundary
// (the codec's Parse/Print/Merge still operate on the whole value).
package blob

import (
	"bytes"
	"context"
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"

	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/model"
)

// chunkThreshold is the payload size above which Chunks splits input
// for sub-block storage sharing; below it, chunking only adds
// overhead.
const chunkThreshold = 256 * 1024

// Codec is the identity-encoded, last-writer-wins Contents codec for
// raw byte blobs.
type Codec struct{}

var _ model.ContentsCodec = Codec{}

// Parse is the identity function: a blob's diagnostic text form is its
// own bytes reinterpreted as a string.
func (Codec) Parse(s string) ([]byte, error) {
	return []byte(s), nil
}

// Print is the identity function's inverse.
func (Codec) Print(b []byte) (string, error) {
	return string(b), nil
}

// Merge applies last-writer-wins: if only one side changed the bytes
// relative to the ancestor, that side wins; if both changed the bytes
// identically, that's the result; if both changed them differently,
// it's a conflict. Absence on either side is itself a valid "change"
// (a deletion), so this also resolves add/add, add/delete and
// delete/delete combinations.
func (Codec) Merge(ctx context.Context, old model.Ancestor, a, b model.Option) (model.Option, error) {
	oldBytes, oldOK, err := old.Get(ctx)
	if err != nil {
		return model.None, err
	}

	aChanged := !optionMatches(oldBytes, oldOK, a)
	bChanged := !optionMatches(oldBytes, oldOK, b)

	switch {
	case !aChanged && !bChanged:
		return model.Option{Present: oldOK, Value: oldBytes}, nil
	case aChanged && !bChanged:
		return a, nil
	case !aChanged && bChanged:
		return b, nil
	default:
		if optionsEqual(a, b) {
			return a, nil
		}
		return model.None, graveerr.NewConflict(nil, "both sides changed blob contents differently")
	}
}

func optionMatches(oldBytes []byte, oldOK bool, o model.Option) bool {
	if oldOK != o.Present {
		return false
	}
	if !oldOK {
		return true
	}
	return bytes.Equal(oldBytes, o.Value)
}

func optionsEqual(a, b model.Option) bool {
	if a.Present != b.Present {
		return false
	}
	if !a.Present {
		return true
	}
	return bytes.Equal(a.Value, b.Value)
}

// MetadataCodec is the companion default for Entry.Metadata on blob
// entries: an empty default, merged with the same last-writer-wins
// rule as the contents themselves.
type MetadataCodec struct{}

var _ model.MetadataCodec = MetadataCodec{}

// Default returns the zero-value metadata (no attributes).
func (MetadataCodec) Default() []byte { return nil }

// Merge applies last-writer-wins over the raw metadata bytes.
func (MetadataCodec) Merge(ctx context.Context, old model.Ancestor, a, b []byte) ([]byte, error) {
	oldBytes, oldOK, err := old.Get(ctx)
	if err != nil {
		return nil, err
	}
	aChanged := !oldOK || !bytes.Equal(oldBytes, a)
	bChanged := !oldOK || !bytes.Equal(oldBytes, b)
	switch {
	case !aChanged && !bChanged:
		return oldBytes, nil
	case aChanged && !bChanged:
		return a, nil
	case !aChanged && bChanged:
		return b, nil
	default:
		if bytes.Equal(a, b) {
			return a, nil
		}
		return nil, graveerr.NewConflict(nil, "both sides changed blob metadata differently")
	}
}

// Chunks splits b into content-defined sub-blocks using buzhash
// fingerprinting when b exceeds chunkThreshold, returning b itself
// (unsplit) otherwise. Where buzhash finds no boundary the splitter
// cuts only at its 512KiB maximum chunk size, so a payload above the
// threshold can still come back as one chunk. Callers that store each
// returned slice separately get sub-block deduplication across commits for large
// blobs; the Contents interface never sees this split, since Merge and
// Parse/Print operate on the whole value.
func Chunks(b []byte) ([][]byte, error) {
	if len(b) <= chunkThreshold {
		return [][]byte{b}, nil
	}
	splitter := boxochunker.NewBuzhash(bytes.NewReader(b))
	var chunks [][]byte
	for {
		chunk, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
