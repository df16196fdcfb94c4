// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"fmt"
	"sort"

	"github.com/nebula-feeds/nebula-backend/internal/graphsvc"
	"github.com/nebula-feeds/nebula-backend/internal/metrics"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const maxLimit = 100

// Core is the ranking pipeline entry point.
type Core struct {
	repo  *repository.Repository
	graph *graphsvc.Service
}

func New(repo *repository.Repository, graph *graphsvc.Service) *Core {
	return &Core{repo: repo, graph: graph}
}

// Rank harvests, scores and orders candidates for the user. In batch
// mode the whole post-dedup pool is returned with full signals and no
// pagination, diversity or seen fatigue; the semantic pipeline consumes
// it offline.
func (c *Core) Rank(userDid string, params Params, batchMode bool) (*Result, error) {
	rc, err := c.loadContext(userDid)
	if err != nil {
		return nil, fmt.Errorf("load rank context for %s: %w", userDid, err)
	}

	posts := c.recall(rc, batchMode)
	if len(posts) == 0 {
		return &Result{}, nil
	}
	metrics.CandidatesScored.Observe(float64(len(posts)))

	uris := make([]string, len(posts))
	for i, p := range posts {
		uris[i] = p.URI
	}
	efforts := c.networkEffort(rc, uris)
	threads := c.analyzeThreads(rc, posts)
	parents := c.fetchParents(posts)

	candidates := make([]*Candidate, 0, len(posts))
	for _, p := range posts {
		cand := &Candidate{Post: p, Signals: make(map[string]float64)}

		var thread *threadInfo
		if p.ReplyRoot != "" {
			thread = threads[p.ReplyRoot]
		} else {
			thread = threads[p.URI]
		}

		c.score(rc, cand, efforts[p.URI], thread, parents[p.ReplyParent], batchMode)
		candidates = append(candidates, cand)
	}

	candidates = c.filter(rc, candidates, threads)
	candidates = c.dedup(rc, candidates)

	if batchMode {
		sort.SliceStable(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })
		return &Result{Items: candidates}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })
	ordered := diversify(candidates)

	if params.Cursor != "" {
		key, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
		ordered = afterCursor(ordered, key)
	}

	limit := params.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	res := &Result{Items: ordered}
	if len(ordered) == limit && limit > 0 {
		res.Cursor = encodeCursor(ordered[len(ordered)-1])
	}
	return res, nil
}

// afterCursor resumes the ordered sequence strictly after the cursor.
// A URI position match wins; otherwise the key ordering decides.
func afterCursor(ordered []*Candidate, key *cursorKey) []*Candidate {
	for i, cand := range ordered {
		if cand.Post.URI == key.uri {
			return ordered[i+1:]
		}
	}

	out := ordered[:0:0]
	for _, cand := range ordered {
		if cand.after(key) {
			out = append(out, cand)
		}
	}
	return out
}

// fetchParents loads the direct parents of reply candidates; a parent
// may be missing from the index.
func (c *Core) fetchParents(posts []*schema.Post) map[string]*schema.Post {
	parentSet := make(map[string]bool)
	for _, p := range posts {
		if p.ReplyParent != "" {
			parentSet[p.ReplyParent] = true
		}
	}
	if len(parentSet) == 0 {
		return nil
	}

	parents, err := c.repo.FindPosts(keys(parentSet))
	if err != nil {
		return nil
	}
	return parents
}
