// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nebula-feeds/nebula-backend/internal/metrics"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// IngestBatch is the set of mutations one flush interval accumulated.
// Counter deltas are pre-summed per URI by the batcher.
type IngestBatch struct {
	Posts        []*schema.Post
	Deletes      []string
	LikeDeltas   map[string]int64
	RepostDeltas map[string]int64
	ReplyDeltas  map[string]int64
	Interactions []*schema.InteractionEdge
}

func (b *IngestBatch) Empty() bool {
	return len(b.Posts) == 0 && len(b.Deletes) == 0 &&
		len(b.LikeDeltas) == 0 && len(b.RepostDeltas) == 0 &&
		len(b.ReplyDeltas) == 0 && len(b.Interactions) == 0
}

type counterDelta struct {
	uri     string
	likes   int64
	reposts int64
	replies int64
}

// ApplyIngestBatch writes one batch inside a single transaction, in a
// fixed order: post inserts, post deletes, counter increments in
// URI-sorted order (prevents deadlock under concurrent ingesters),
// interaction-edge inserts. Duplicated replay events are absorbed by
// ON CONFLICT DO NOTHING on the unique keys.
func (r *Repository) ApplyIngestBatch(b *IngestBatch) error {
	start := time.Now()

	err := retryBusy(func() error {
		tx, err := r.DB.Beginx()
		if err != nil {
			return fmt.Errorf("begin flush tx: %w", err)
		}
		defer tx.Rollback()

		if err := chunked(b.Posts, func(chunk []*schema.Post) error {
			_, err := tx.NamedExec(
				`INSERT INTO post (uri, cid, author, indexed_at, like_count, reply_count, repost_count,
				                   reply_root, reply_parent, text, has_image, has_video, has_external)
				 VALUES (:uri, :cid, :author, :indexed_at, :like_count, :reply_count, :repost_count,
				         :reply_root, :reply_parent, :text, :has_image, :has_video, :has_external)
				 ON CONFLICT (uri) DO NOTHING`, chunk)
			return err
		}); err != nil {
			return fmt.Errorf("insert posts: %w", err)
		}

		if err := chunked(b.Deletes, func(chunk []string) error {
			query, args, err := sqlx.In("DELETE FROM post WHERE uri IN (?)", chunk)
			if err != nil {
				return err
			}
			_, err = tx.Exec(query, args...)
			return err
		}); err != nil {
			return fmt.Errorf("delete posts: %w", err)
		}

		deltas := mergeDeltas(b)
		for _, d := range deltas {
			_, err := tx.Exec(
				`UPDATE post SET like_count   = MAX(0, like_count + ?),
				                 repost_count = MAX(0, repost_count + ?),
				                 reply_count  = MAX(0, reply_count + ?)
				 WHERE uri = ?`, d.likes, d.reposts, d.replies, d.uri)
			if err != nil {
				return fmt.Errorf("increment counters for %s: %w", d.uri, err)
			}
		}

		if err := chunked(b.Interactions, func(chunk []*schema.InteractionEdge) error {
			_, err := tx.NamedExec(
				`INSERT INTO graph_interaction (actor, target, type, weight, indexed_at, interaction_uri)
				 VALUES (:actor, :target, :type, :weight, :indexed_at, :interaction_uri)
				 ON CONFLICT (actor, target, type) DO NOTHING`, chunk)
			return err
		}); err != nil {
			return fmt.Errorf("insert interactions: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return err
	}

	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	metrics.FlushedRows.WithLabelValues("post").Add(float64(len(b.Posts)))
	metrics.FlushedRows.WithLabelValues("delete").Add(float64(len(b.Deletes)))
	metrics.FlushedRows.WithLabelValues("interaction").Add(float64(len(b.Interactions)))
	log.Debugf("flushed batch: %d posts, %d deletes, %d interactions",
		len(b.Posts), len(b.Deletes), len(b.Interactions))
	return nil
}

// mergeDeltas folds the three per-kind delta maps into one URI-sorted
// slice.
func mergeDeltas(b *IngestBatch) []counterDelta {
	merged := make(map[string]*counterDelta)
	get := func(uri string) *counterDelta {
		d, ok := merged[uri]
		if !ok {
			d = &counterDelta{uri: uri}
			merged[uri] = d
		}
		return d
	}

	for uri, n := range b.LikeDeltas {
		get(uri).likes = n
	}
	for uri, n := range b.RepostDeltas {
		get(uri).reposts = n
	}
	for uri, n := range b.ReplyDeltas {
		get(uri).replies = n
	}

	out := make([]counterDelta, 0, len(merged))
	for _, d := range merged {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uri < out[j].uri })
	return out
}
