// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fusion is the serve-time stage: it blends the pre-computed
// semantic candidate batch with the live ranking pipeline, applies
// real-time fatigue and diversity and produces the cursored skeleton.
package fusion

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/ranking"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/internal/semantic"
	"github.com/nebula-feeds/nebula-backend/internal/taste"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	maxLimit            = 100
	thinPoolThreshold   = 20
	seenCutoffCount     = 3
	seenCutoffScore     = -501.0
	consumptionTrigger  = 0.5
	liveBaseScoreCap    = 1000.0
	liveScoreDecline    = 5.0
	seenLookbackWindow  = 7 * 24 * time.Hour
)

// ReasonRepost is the skeleton reason attached when a candidate
// entered the pool through a repost and its author is not one of the
// user's L1 follows.
type ReasonRepost struct {
	Type   string `json:"$type"`
	Repost string `json:"repost"`
}

// SkeletonItem is one feed entry.
type SkeletonItem struct {
	Post   string        `json:"post"`
	Reason *ReasonRepost `json:"reason,omitempty"`
}

// Response is the page handed back to the feed endpoint.
type Response struct {
	Feed   []SkeletonItem `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

// BatchTrigger fires candidate-batch regeneration; the semantic
// scheduler implements it.
type BatchTrigger interface {
	Trigger(userDid string, priority bool)
}

type Fusion struct {
	repo      *repository.Repository
	core      *ranking.Core
	taste     *taste.Engine
	scheduler BatchTrigger
}

func New(repo *repository.Repository, core *ranking.Core, tasteEngine *taste.Engine, scheduler BatchTrigger) *Fusion {
	return &Fusion{repo: repo, core: core, taste: tasteEngine, scheduler: scheduler}
}

// servable is one candidate in the fusion pool.
type servable struct {
	uri       string
	author    string
	authorL1  bool
	indexedAt int64
	score     float64
	repostURI string
}

// Serve produces one feed page for the user.
func (f *Fusion) Serve(ctx context.Context, userDid string, limit int, cursor string) (*Response, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	now := time.Now()
	rows, err := f.repo.CandidateBatch(userDid, now.Add(-semantic.BatchTTL).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load candidate batch: %w", err)
	}

	if len(rows) == 0 {
		return f.serveLive(ctx, userDid, limit, cursor)
	}

	// Rows arrive newest-generation first; the first occurrence of a
	// URI wins the dedup.
	dedup := make(map[string]*schema.CandidateBatchRow, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		if _, ok := dedup[row.URI]; !ok {
			dedup[row.URI] = row
			order = append(order, row.URI)
		}
	}

	interacted, err := f.interactedURIs(userDid)
	if err != nil {
		return nil, err
	}
	seen, err := f.repo.SeenCounts(userDid, now.Add(-seenLookbackWindow).UnixMilli())
	if err != nil {
		return nil, err
	}
	fatigue, err := f.repo.AuthorFatigueFor(userDid)
	if err != nil {
		return nil, err
	}
	l1, err := f.repo.L1Follows(userDid)
	if err != nil {
		return nil, err
	}
	l1Set := make(map[string]bool, len(l1))
	for _, did := range l1 {
		l1Set[did] = true
	}

	posts, err := f.repo.FindPosts(order)
	if err != nil {
		return nil, err
	}

	var pool []*servable
	seenInBatch := 0
	for _, uri := range order {
		row := dedup[uri]
		if seen[uri] > 0 {
			seenInBatch++
		}
		if interacted[uri] {
			continue
		}

		post, ok := posts[uri]
		if !ok {
			// Deleted since the batch was generated.
			continue
		}

		batchAgeHours := float64(now.UnixMilli()-row.GeneratedAt) / float64(time.Hour.Milliseconds())
		impact := math.Max(0, 1-batchAgeHours/12)
		score := 0.3*row.PipelineScore + 1800*row.SemanticScore*impact

		if n := seen[uri]; n >= seenCutoffCount {
			score = seenCutoffScore
		} else if n > 0 {
			score *= math.Pow(0.2, float64(n))
		}

		if row, ok := fatigue[post.Author]; ok {
			score -= (row.FatigueScore / 100) * 1200
		}

		pool = append(pool, &servable{
			uri:       uri,
			author:    post.Author,
			authorL1:  l1Set[post.Author],
			indexedAt: post.IndexedAt,
			score:     score,
		})
	}

	sort.SliceStable(pool, func(i, j int) bool { return servableLess(pool[i], pool[j]) })
	pool = diversifyAuthors(pool)

	if len(pool) < thinPoolThreshold {
		pool = f.intersplice(userDid, pool, l1Set)
	}

	if cursor != "" {
		pool, err = afterCursor(pool, cursor)
		if err != nil {
			return nil, err
		}
	}
	if len(pool) > limit {
		pool = pool[:limit]
	}

	resp := &Response{Feed: make([]SkeletonItem, 0, len(pool))}
	for _, s := range pool {
		item := SkeletonItem{Post: s.uri}
		if s.repostURI != "" && !s.authorL1 {
			item.Reason = &ReasonRepost{
				Type:   "app.bsky.feed.defs#skeletonReasonRepost",
				Repost: s.repostURI,
			}
		}
		resp.Feed = append(resp.Feed, item)
	}
	if len(pool) == limit && limit > 0 {
		resp.Cursor = encodeCursor(pool[len(pool)-1])
	}

	f.recordServed(userDid, pool)

	if len(dedup) > 0 && float64(seenInBatch)/float64(len(dedup)) >= consumptionTrigger {
		log.Debugf("fusion: %s consumed %d/%d batch candidates, regenerating", userDid, seenInBatch, len(dedup))
		f.scheduler.Trigger(userDid, true)
	}

	return resp, nil
}

// serveLive answers straight from the ranking core when no candidate
// batch exists yet.
func (f *Fusion) serveLive(ctx context.Context, userDid string, limit int, cursor string) (*Response, error) {
	result, err := f.core.Rank(userDid, ranking.Params{Limit: limit, Cursor: cursor}, false)
	if err != nil {
		return nil, err
	}

	l1, err := f.repo.L1Follows(userDid)
	if err != nil {
		return nil, err
	}
	l1Set := make(map[string]bool, len(l1))
	for _, did := range l1 {
		l1Set[did] = true
	}

	resp := &Response{Feed: make([]SkeletonItem, 0, len(result.Items)), Cursor: result.Cursor}
	served := make([]*servable, 0, len(result.Items))
	for _, cand := range result.Items {
		item := SkeletonItem{Post: cand.Post.URI}
		if cand.RepostURI != "" && !l1Set[cand.Post.Author] {
			item.Reason = &ReasonRepost{
				Type:   "app.bsky.feed.defs#skeletonReasonRepost",
				Repost: cand.RepostURI,
			}
		}
		resp.Feed = append(resp.Feed, item)
		served = append(served, &servable{uri: cand.Post.URI, author: cand.Post.Author})
	}

	f.recordServed(userDid, served)
	return resp, nil
}

// intersplice appends live pipeline output below the batch items when
// the pool runs thin. Live items slot in under the weakest positive
// batch score, declining per rank.
func (f *Fusion) intersplice(userDid string, pool []*servable, l1Set map[string]bool) []*servable {
	result, err := f.core.Rank(userDid, ranking.Params{Limit: maxLimit}, false)
	if err != nil {
		log.Warnf("fusion: live intersplice for %s: %v", userDid, err)
		return pool
	}

	inBatch := make(map[string]bool, len(pool))
	floor := liveBaseScoreCap
	for _, s := range pool {
		if s.score > 0 {
			inBatch[s.uri] = true
			if s.score-1 < floor {
				floor = s.score - 1
			}
		}
	}

	rank := 0
	for _, cand := range result.Items {
		if inBatch[cand.Post.URI] {
			continue
		}
		pool = append(pool, &servable{
			uri:       cand.Post.URI,
			author:    cand.Post.Author,
			authorL1:  l1Set[cand.Post.Author],
			indexedAt: cand.Post.IndexedAt,
			score:     math.Min(liveBaseScoreCap, floor) - liveScoreDecline*float64(rank),
			repostURI: cand.RepostURI,
		})
		rank++
	}

	sort.SliceStable(pool, func(i, j int) bool { return servableLess(pool[i], pool[j]) })
	return pool
}

// recordServed asynchronously writes the served log and bumps author
// fatigue once per unique author.
func (f *Fusion) recordServed(userDid string, served []*servable) {
	if len(served) == 0 {
		return
	}

	uris := make([]string, len(served))
	authors := make(map[string]bool)
	for i, s := range served {
		uris[i] = s.uri
		if s.author != "" {
			authors[s.author] = true
		}
	}

	go func() {
		if err := f.repo.InsertServed(userDid, uris, time.Now().UnixMilli()); err != nil {
			log.Warnf("fusion: served log for %s: %v", userDid, err)
		}
		for author := range authors {
			f.taste.OnServed(userDid, author)
		}
	}()
}

func (f *Fusion) interactedURIs(userDid string) (map[string]bool, error) {
	edges, err := f.repo.InteractionsByActor(userDid, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(edges))
	for _, e := range edges {
		out[e.Target] = true
	}
	return out, nil
}

func servableLess(a, b *servable) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.indexedAt != b.indexedAt {
		return a.indexedAt > b.indexedAt
	}
	return a.uri < b.uri
}

// diversifyAuthors enforces the last-2-authors constraint over the
// sorted pool.
func diversifyAuthors(pool []*servable) []*servable {
	if len(pool) <= 2 {
		return pool
	}

	remaining := make([]*servable, len(pool))
	copy(remaining, pool)
	out := make([]*servable, 0, len(pool))
	var last2 [2]string

	for len(remaining) > 0 {
		pick := -1
		for i, s := range remaining {
			if s.author != last2[0] && s.author != last2[1] {
				pick = i
				break
			}
		}
		if pick < 0 {
			pick = 0
		}

		s := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)
		out = append(out, s)
		last2[1] = last2[0]
		last2[0] = s.author
	}
	return out
}

func encodeCursor(s *servable) string {
	return fmt.Sprintf("%.4f::%d::%s", s.score, s.indexedAt, s.uri)
}

func afterCursor(pool []*servable, cursor string) ([]*servable, error) {
	parts := strings.SplitN(cursor, "::", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed cursor %q", cursor)
	}
	score, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor score: %w", err)
	}
	tsMs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	uri := parts[2]

	// Resume by position: the URI pins the boundary item even when its
	// recomputed score drifted since the cursor was cut.
	for i, s := range pool {
		if s.uri == uri {
			return pool[i+1:], nil
		}
	}

	out := pool[:0:0]
	for _, s := range pool {
		if s.score < score || (s.score == score && (s.indexedAt < tsMs || (s.indexedAt == tsMs && s.uri > uri))) {
			out = append(out, s)
		}
	}
	return out, nil
}
