package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovevc/grove/pkg/graveerr"
)

func TestCounterLawConcurrentIncrementsCompose(t *testing.T) {
	old := Resolved(int64(10), true)
	result, err := Counter(context.Background(), old, 13, 15) // +3 and +5
	require.NoError(t, err)
	require.Equal(t, int64(18), result)
}

func TestCounterNeverConflicts(t *testing.T) {
	old := Resolved(int64(0), false)
	_, err := Counter(context.Background(), old, 100, -100)
	require.NoError(t, err)
}

func TestLastWriterWinsIdentityWhenNeitherChanged(t *testing.T) {
	eq := func(a, b string) bool { return a == b }
	combinator := LastWriterWins(eq)
	old := Resolved("base", true)
	result, err := combinator(context.Background(), old, "base", "base")
	require.NoError(t, err)
	require.Equal(t, "base", result)
}

func TestLastWriterWinsOneSidedChangeWins(t *testing.T) {
	eq := func(a, b string) bool { return a == b }
	combinator := LastWriterWins(eq)
	old := Resolved("base", true)
	result, err := combinator(context.Background(), old, "changed", "base")
	require.NoError(t, err)
	require.Equal(t, "changed", result)
}

func TestLastWriterWinsDivergentChangeConflicts(t *testing.T) {
	eq := func(a, b string) bool { return a == b }
	combinator := LastWriterWins(eq)
	old := Resolved("base", true)
	_, err := combinator(context.Background(), old, "a-version", "b-version")
	require.True(t, graveerr.IsConflict(err))
}

func TestSeqIsConflictMonotonic(t *testing.T) {
	alwaysConflicts := Conflict[string]("forced")
	neverCalled := func(ctx context.Context, old Ancestor[string], a, b string) (string, error) {
		t.Fatal("later step should not run after an earlier conflict")
		return "", nil
	}
	combinator := Seq(alwaysConflicts, neverCalled)
	_, err := combinator(context.Background(), Resolved("", true), "a", "b")
	require.True(t, graveerr.IsConflict(err))
}

func TestAncestorGetIsMemoized(t *testing.T) {
	calls := 0
	a := NewAncestor(func(ctx context.Context) (int, bool, error) {
		calls++
		return 42, true, nil
	})
	v1, _, _ := a.Get(context.Background())
	v2, _, _ := a.Get(context.Background())
	require.Equal(t, 42, v1)
	require.Equal(t, 42, v2)
	require.Equal(t, 1, calls)
}

func TestRegistryMergesKeysIndependently(t *testing.T) {
	eq := func(a, b string) bool { return a == b }
	valueMerge := LastWriterWins(eq)
	ancestorOf := func(k string) Ancestor[string] {
		return Resolved("base", true)
	}
	combinator := Registry(valueMerge, ancestorOf)

	old := Resolved(map[string]string{"x": "base"}, true)
	a := map[string]string{"x": "base", "new-in-a": "va"}
	b := map[string]string{"x": "changed-by-b", "new-in-b": "vb"}

	result, err := combinator(context.Background(), old, a, b)
	require.NoError(t, err)
	require.Equal(t, "changed-by-b", result["x"])
	require.Equal(t, "va", result["new-in-a"])
	require.Equal(t, "vb", result["new-in-b"])
}
