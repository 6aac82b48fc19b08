package blob

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/model"
)

func TestCodecParsePrintIsIdentity(t *testing.T) {
	c := Codec{}
	b, err := c.Parse("hello")
	require.NoError(t, err)
	s, err := c.Print(b)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestCodecMergeNeitherChanged(t *testing.T) {
	c := Codec{}
	old := model.ResolvedAncestor([]byte("base"), true)
	out, err := c.Merge(context.Background(), old, model.Some([]byte("base")), model.Some([]byte("base")))
	require.NoError(t, err)
	require.Equal(t, model.Some([]byte("base")), out)
}

func TestCodecMergeOneSidedChangeWins(t *testing.T) {
	c := Codec{}
	old := model.ResolvedAncestor([]byte("base"), true)
	out, err := c.Merge(context.Background(), old, model.Some([]byte("changed")), model.Some([]byte("base")))
	require.NoError(t, err)
	require.Equal(t, model.Some([]byte("changed")), out)
}

func TestCodecMergeBothChangedIdenticallyIsNotConflict(t *testing.T) {
	c := Codec{}
	old := model.ResolvedAncestor([]byte("base"), true)
	out, err := c.Merge(context.Background(), old, model.Some([]byte("new")), model.Some([]byte("new")))
	require.NoError(t, err)
	require.Equal(t, model.Some([]byte("new")), out)
}

func TestCodecMergeBothChangedDifferentlyConflicts(t *testing.T) {
	c := Codec{}
	old := model.ResolvedAncestor([]byte("base"), true)
	_, err := c.Merge(context.Background(), old, model.Some([]byte("a")), model.Some([]byte("b")))
	require.True(t, graveerr.IsConflict(err))
}

func TestCodecMergeAddAddDifferentlyConflicts(t *testing.T) {
	c := Codec{}
	old := model.ResolvedAncestor(nil, false)
	_, err := c.Merge(context.Background(), old, model.Some([]byte("a")), model.Some([]byte("b")))
	require.True(t, graveerr.IsConflict(err))
}

func TestCodecMergeDeleteDeleteIsAbsence(t *testing.T) {
	c := Codec{}
	old := model.ResolvedAncestor([]byte("base"), true)
	out, err := c.Merge(context.Background(), old, model.None, model.None)
	require.NoError(t, err)
	require.False(t, out.Present)
}

func TestMetadataCodecDefaultIsNil(t *testing.T) {
	require.Nil(t, MetadataCodec{}.Default())
}

func TestMetadataCodecMergeLastWriterWins(t *testing.T) {
	mc := MetadataCodec{}
	old := model.ResolvedAncestor([]byte("base"), true)
	out, err := mc.Merge(context.Background(), old, []byte("changed"), []byte("base"))
	require.NoError(t, err)
	require.Equal(t, []byte("changed"), out)
}

func TestChunksBelowThresholdReturnsWholeInput(t *testing.T) {
	chunks, err := Chunks([]byte("small payload"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, []byte("small payload"), chunks[0])
}

func TestChunksAboveThresholdSplitsAndReassembles(t *testing.T) {
	// Repetitive input gives buzhash no content-defined boundary, so the
	// payload is sized past the splitter's 512KiB maximum chunk size,
	// where it always cuts.
	payload := bytes.Repeat([]byte("grove-chunking-test-data-"), chunkThreshold/10)
	require.Greater(t, len(payload), chunkThreshold)

	chunks, err := Chunks(payload)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	require.Equal(t, payload, reassembled)
}
