// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ranking implements the candidate pipeline: recall over four
// buckets, network-effort aggregation, reply-cluster analysis, additive
// scoring, filtering, thread dedup, author diversity and stable
// cursored pagination.
package ranking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// Params carries the request inputs of one rank call.
type Params struct {
	Limit  int
	Cursor string
}

// Candidate is one scored post with its named signal breakdown.
type Candidate struct {
	Post    *schema.Post
	Score   float64
	Signals map[string]float64

	// RepostURI is set when the candidate entered the pool through a
	// repost by an L1 follower.
	RepostURI string

	relation  relation
	seenCount int64
}

type relation int

const (
	relationSelf relation = iota
	relationL1
	relationInteracted
	relationL2
	relationUnknown
)

func (c *Candidate) addSignal(name string, value float64) {
	if value == 0 {
		return
	}
	c.Signals[name] = value
	c.Score += value
}

// Result is the ordered page returned by Rank.
type Result struct {
	Items  []*Candidate
	Cursor string
}

// Cursor format: score::timestampMs::uri. Total order matches the sort
// key (-score, -indexedAtMs, uri); pagination applies it strictly-after.
type cursorKey struct {
	score float64
	tsMs  int64
	uri   string
}

func encodeCursor(c *Candidate) string {
	return fmt.Sprintf("%.4f::%d::%s", c.Score, c.Post.IndexedAt, c.Post.URI)
}

func decodeCursor(raw string) (*cursorKey, error) {
	parts := strings.SplitN(raw, "::", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed cursor %q", raw)
	}

	score, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor score: %w", err)
	}
	tsMs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor timestamp: %w", err)
	}

	return &cursorKey{score: score, tsMs: tsMs, uri: parts[2]}, nil
}

// less orders candidates by the stable sort key.
func less(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Post.IndexedAt != b.Post.IndexedAt {
		return a.Post.IndexedAt > b.Post.IndexedAt
	}
	return a.Post.URI < b.Post.URI
}

// after reports whether the candidate sorts strictly after the cursor.
func (c *Candidate) after(k *cursorKey) bool {
	if c.Score != k.score {
		return c.Score < k.score
	}
	if c.Post.IndexedAt != k.tsMs {
		return c.Post.IndexedAt < k.tsMs
	}
	return c.Post.URI > k.uri
}
