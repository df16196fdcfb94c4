// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"math/rand"
	"sort"
	"time"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	freshWindow  = 72 * time.Hour
	bridgeWindow = 7 * 24 * time.Hour
	gemsWindow   = 30 * 24 * time.Hour

	freshCap       = 1200
	freshCapBatch  = 3000
	bridgeCap      = 600
	gemsCap        = 1600
	gemsCapBatch   = 3000
	bubbleCap      = 800
	twinRecallURIs = 2000
)

// preScore ranks a bucket's raw rows so only its strongest top-K joins
// the candidate union. Coefficients are jittered per bucket and per
// call; the light randomness keeps repeated harvests from freezing on
// the same tail.
type preScorer struct {
	a, b, c float64
}

func newPreScorer(rng *rand.Rand) preScorer {
	jitter := func(base float64) float64 {
		return base * (0.8 + 0.4*rng.Float64())
	}
	return preScorer{a: jitter(1.0), b: jitter(24.0), c: jitter(0.5)}
}

func (ps preScorer) score(p *schema.Post, nowMs int64) float64 {
	ageHours := float64(nowMs-p.IndexedAt) / float64(time.Hour.Milliseconds())
	if ageHours < 0 {
		ageHours = 0
	}
	likes := float64(p.LikeCount)
	s := ps.a*likes + ps.b/(ageHours+1)
	if ageHours > 0 {
		s += ps.c * likes / ageHours
	}
	return s
}

func topK(posts []*schema.Post, ps preScorer, nowMs int64, k int) []*schema.Post {
	sort.SliceStable(posts, func(i, j int) bool {
		return ps.score(posts[i], nowMs) > ps.score(posts[j], nowMs)
	})
	if len(posts) > k {
		posts = posts[:k]
	}
	return posts
}

// recall assembles the union of the four buckets, de-duplicated by URI.
func (c *Core) recall(rc *rankContext, batchMode bool) []*schema.Post {
	rng := rand.New(rand.NewSource(time.Now().UnixMilli()))
	now := time.UnixMilli(rc.nowMs)

	graphAuthors := keys(rc.l1)
	graphAuthors = append(graphAuthors, keys(rc.l2)...)
	graphAuthors = append(graphAuthors, keys(rc.interacted)...)

	bubbleAuthors := keys(rc.l1)
	bubbleAuthors = append(bubbleAuthors, keys(rc.interacted)...)

	union := make(map[string]*schema.Post)
	add := func(posts []*schema.Post) {
		for _, p := range posts {
			if _, ok := union[p.URI]; !ok {
				union[p.URI] = p
			}
		}
	}

	// B1 fresh: recent posts from the graph, or anything clearing the
	// like threshold.
	freshLikes, cap1 := int64(2), freshCap
	if batchMode {
		freshLikes, cap1 = 0, freshCapBatch
	}
	fresh, err := c.repo.RecallByAuthors(graphAuthors, now.Add(-freshWindow).UnixMilli(), 0, freshLikes, cap1*2)
	if err != nil {
		log.Warnf("ranking: fresh bucket: %v", err)
	}
	add(topK(fresh, newPreScorer(rng), rc.nowMs, cap1))

	// B1.5 bridge: the 72h-7d gap with a minimal engagement bar.
	bridge, err := c.repo.RecallByAuthors(graphAuthors,
		now.Add(-bridgeWindow).UnixMilli(), now.Add(-freshWindow).UnixMilli(), 1, bridgeCap*2)
	if err != nil {
		log.Warnf("ranking: bridge bucket: %v", err)
	}
	add(topK(bridge, newPreScorer(rng), rc.nowMs, bridgeCap))

	// B2 global gems plus the taste-twin consensus URIs.
	gemsLikes, cap2 := int64(1), gemsCap
	if batchMode {
		gemsLikes, cap2 = 0, gemsCapBatch
	}
	gems, err := c.repo.RecallGlobal(now.Add(-gemsWindow).UnixMilli(), gemsLikes, cap2*2)
	if err != nil {
		log.Warnf("ranking: gems bucket: %v", err)
	}

	twinEdges, err := c.repo.RecentLikesBy(keys(toBoolSet(rc.twins)), now.Add(-gemsWindow).UnixMilli(), twinRecallURIs)
	if err != nil {
		log.Warnf("ranking: twin recall: %v", err)
	}
	twinURIs := make([]string, 0, len(twinEdges))
	for _, e := range twinEdges {
		rep := rc.twins[e.Actor]
		tl := rc.twinLiked[e.Target]
		tl.count++
		if rep > tl.maxRep {
			tl.maxRep = rep
		}
		rc.twinLiked[e.Target] = tl
		twinURIs = append(twinURIs, e.Target)
	}
	if twinPosts, err := c.repo.FindPosts(twinURIs); err != nil {
		log.Warnf("ranking: twin posts: %v", err)
	} else {
		for _, p := range twinPosts {
			gems = append(gems, p)
		}
	}
	add(topK(gems, newPreScorer(rng), rc.nowMs, cap2))

	// B3 bubble: the user's closest circle regardless of engagement.
	bubble, err := c.repo.RecallByAuthorsOnly(bubbleAuthors, now.Add(-gemsWindow).UnixMilli(), bubbleCap*2)
	if err != nil {
		log.Warnf("ranking: bubble bucket: %v", err)
	}
	add(topK(bubble, newPreScorer(rng), rc.nowMs, bubbleCap))

	out := make([]*schema.Post, 0, len(union))
	for _, p := range union {
		out = append(out, p)
	}
	return out
}

func toBoolSet(m map[string]float64) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
