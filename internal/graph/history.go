package graph

import (
	"context"
	"fmt"

	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
)

// Ancestors returns the parent-commit closure starting at h, bounded
// by maxDepth (0 means unbounded). The returned map's values are each
// commit's depth from h (h itself is depth 0), which History uses to
// sort output and Lcas uses for the candidate/lowest reduction.
func (e *Engine) Ancestors(ctx context.Context, h hash.Hash, maxDepth int) (map[hash.Hash]int, error) {
	depths := map[hash.Hash]int{h: 0}
	frontier := []hash.Hash{h}
	for depth := 1; len(frontier) > 0; depth++ {
		if maxDepth > 0 && depth > maxDepth {
			return depths, fmt.Errorf("graph: ancestors: %w", graveerr.ErrMaxDepthReached)
		}
		var next []hash.Hash
		for _, ch := range frontier {
			c, ok, err := e.Commits.Get(ctx, ch)
			if err != nil {
				return nil, fmt.Errorf("graph: ancestors: %w", err)
			}
			if !ok {
				continue
			}
			for _, p := range c.Parents {
				if _, seen := depths[p]; seen {
					continue
				}
				depths[p] = depth
				next = append(next, p)
			}
		}
		frontier = next
	}
	return depths, nil
}

// Lcas computes the lowest common ancestors of x and y: commit hashes
// that are ancestors of both and that have no descendant which is also
// a common ancestor. Search proceeds breadth-first from both sides,
// one generation per side per round; every commit one side reaches that
// the other side has already reached becomes a candidate, and once the
// search is exhausted, candidates that are strict ancestors of another
// candidate are discarded as non-lowest.
// maxDepth and maxLCAs bound runaway search on pathological histories.
func (e *Engine) Lcas(ctx context.Context, x, y hash.Hash, maxDepth, maxLCAs int) ([]hash.Hash, error) {
	if x == y {
		return []hash.Hash{x}, nil
	}

	xDepth := map[hash.Hash]int{x: 0}
	yDepth := map[hash.Hash]int{y: 0}
	xFrontier := []hash.Hash{x}
	yFrontier := []hash.Hash{y}

	candidates := map[hash.Hash]bool{}

	step := func(frontier []hash.Hash, depths map[hash.Hash]int, other map[hash.Hash]int) ([]hash.Hash, error) {
		var next []hash.Hash
		for _, ch := range frontier {
			c, ok, err := e.Commits.Get(ctx, ch)
			if err != nil {
				return nil, fmt.Errorf("graph: lcas: %w", err)
			}
			if !ok {
				continue
			}
			for _, p := range c.Parents {
				if _, seen := depths[p]; seen {
					continue
				}
				depths[p] = depths[ch] + 1
				next = append(next, p)
				if _, inOther := other[p]; inOther {
					candidates[p] = true
				}
			}
		}
		return next, nil
	}

	for depth := 1; len(xFrontier) > 0 || len(yFrontier) > 0; depth++ {
		if maxDepth > 0 && depth > maxDepth {
			return nil, fmt.Errorf("graph: lcas: %w", graveerr.ErrMaxDepthReached)
		}
		var err error
		xFrontier, err = step(xFrontier, xDepth, yDepth)
		if err != nil {
			return nil, err
		}
		yFrontier, err = step(yFrontier, yDepth, xDepth)
		if err != nil {
			return nil, err
		}
		if len(candidates) > maxLCAs && maxLCAs > 0 {
			return nil, fmt.Errorf("graph: lcas: %w", graveerr.ErrTooManyLCAs)
		}
	}

	// Reduce candidates to the lowest ones: drop any candidate that is
	// itself a (strict) ancestor of another candidate.
	var lowest []hash.Hash
	for c := range candidates {
		isAncestorOfOther := false
		for other := range candidates {
			if other == c {
				continue
			}
			ok, err := e.isAncestor(ctx, c, other, maxDepth)
			if err != nil {
				return nil, err
			}
			if ok {
				isAncestorOfOther = true
				break
			}
		}
		if !isAncestorOfOther {
			lowest = append(lowest, c)
		}
	}
	if maxLCAs > 0 && len(lowest) > maxLCAs {
		return nil, fmt.Errorf("graph: lcas: %w", graveerr.ErrTooManyLCAs)
	}
	hash.SortHashes(lowest)
	return lowest, nil
}

// ReduceLCAs collapses two or more lowest common ancestors into a
// single virtual ancestor commit, by pairwise three-way merging: the
// first two candidates are merged using their own lowest common
// ancestor as the merge base (recursing through ReduceLCAs again if
// that inner search also turns up more than one), and the result
// stands in for both candidates in the next pairwise step. The merge
// results are written to the commit store like any other commit (so
// later pairwise steps can walk their ancestry the same way they would
// a real commit's), but nothing ever points a branch head at them.
func (e *Engine) ReduceLCAs(ctx context.Context, lcas []hash.Hash, codec model.ContentsCodec, metaCodec model.MetadataCodec) (hash.Hash, error) {
	if len(lcas) == 0 {
		return hash.Zero, nil
	}
	cur := lcas[0]
	for _, next := range lcas[1:] {
		inner, err := e.Lcas(ctx, cur, next, 0, 0)
		if err != nil {
			return hash.Zero, fmt.Errorf("graph: reduce lcas: %w", err)
		}
		var base hash.Hash
		switch len(inner) {
		case 0:
			base = hash.Zero
		case 1:
			base = inner[0]
		default:
			base, err = e.ReduceLCAs(ctx, inner, codec, metaCodec)
			if err != nil {
				return hash.Zero, err
			}
		}
		merged, err := e.MergeCommits(ctx, base, cur, next, codec, metaCodec, model.Task{})
		if err != nil {
			return hash.Zero, fmt.Errorf("graph: reduce lcas: %w", err)
		}
		h, err := e.Commits.Put(ctx, merged)
		if err != nil {
			return hash.Zero, fmt.Errorf("graph: reduce lcas: %w", err)
		}
		cur = h
	}
	return cur, nil
}

// isAncestor reports whether candidate is a strict ancestor of h.
func (e *Engine) isAncestor(ctx context.Context, candidate, h hash.Hash, maxDepth int) (bool, error) {
	ancestors, err := e.Ancestors(ctx, h, maxDepth)
	if err != nil && len(ancestors) == 0 {
		return false, err
	}
	depth, ok := ancestors[candidate]
	return ok && depth > 0, nil
}

// IsFastForward reports whether to can be reached from "from" by
// following parent links only (i.e. "from" is an ancestor of to, so
// advancing from->to never loses history and needs no merge commit).
func (e *Engine) IsFastForward(ctx context.Context, from, to hash.Hash) (bool, error) {
	if from == to {
		return true, nil
	}
	return e.isAncestor(ctx, from, to, 0)
}

// History returns h and its ancestors in breadth-first order from h,
// each commit's parents queued in their stored order (Parents[0], the
// "main parent", first), stopping after limit commits (0 means
// unbounded).
func (e *Engine) History(ctx context.Context, h hash.Hash, limit int) ([]model.Commit, error) {
	var out []hash.Hash
	visited := map[hash.Hash]bool{}
	queue := []hash.Hash{h}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)
		if limit > 0 && len(out) >= limit {
			break
		}
		c, ok, err := e.Commits.Get(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("graph: history: %w", err)
		}
		if !ok {
			continue
		}
		queue = append(queue, c.Parents...)
	}
	commits := make([]model.Commit, 0, len(out))
	for _, ch := range out {
		c, ok, err := e.Commits.Get(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("graph: history: %w", err)
		}
		if ok {
			commits = append(commits, c)
		}
	}
	return commits, nil
}

// MergeCommits produces a new commit merging a and b given their
// lowest common ancestor lca (hash.Zero if the branches share no
// history), with task attached verbatim to the result — it is never
// blended with either parent's task, per DESIGN.md's recorded decision.
// Parent order on the result is always [a, b]: the "into" branch comes
// first and is never normalized away.
func (e *Engine) MergeCommits(ctx context.Context, lca, a, b hash.Hash, codec model.ContentsCodec, metaCodec model.MetadataCodec, task model.Task) (model.Commit, error) {
	aCommit, ok, err := e.Commits.Get(ctx, a)
	if err != nil {
		return model.Commit{}, fmt.Errorf("graph: merge commits: %w", err)
	}
	if !ok {
		return model.Commit{}, fmt.Errorf("graph: merge commits: %w", graveerr.ErrNotFound)
	}
	bCommit, ok, err := e.Commits.Get(ctx, b)
	if err != nil {
		return model.Commit{}, fmt.Errorf("graph: merge commits: %w", err)
	}
	if !ok {
		return model.Commit{}, fmt.Errorf("graph: merge commits: %w", graveerr.ErrNotFound)
	}
	var lcaNode hash.Hash
	if !lca.IsZero() {
		lcaCommit, ok, err := e.Commits.Get(ctx, lca)
		if err != nil {
			return model.Commit{}, fmt.Errorf("graph: merge commits: %w", err)
		}
		if ok {
			lcaNode = lcaCommit.NodeHash
		}
	}

	mergedNode, err := e.MergeNodes(ctx, lcaNode, aCommit.NodeHash, bCommit.NodeHash, codec, metaCodec)
	if err != nil {
		return model.Commit{}, err
	}

	return model.Commit{
		NodeHash: mergedNode,
		Parents:  []hash.Hash{a, b},
		Task:     task,
	}, nil
}
