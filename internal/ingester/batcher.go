// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingester

import (
	"context"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const flushInterval = 5 * time.Second

func newBatch() *repository.IngestBatch {
	return &repository.IngestBatch{
		LikeDeltas:   make(map[string]int64),
		RepostDeltas: make(map[string]int64),
		ReplyDeltas:  make(map[string]int64),
	}
}

// apply folds one parsed event into the pending batch. Called with the
// ingester mutex held.
func (ing *Ingester) apply(op schema.Op) {
	switch v := op.(type) {
	case schema.CreatePost:
		ing.batch.Posts = append(ing.batch.Posts, postFromOp(v, "", ""))

	case schema.CreateReply:
		ing.batch.Posts = append(ing.batch.Posts, postFromOp(v.CreatePost, v.ReplyRoot, v.ReplyParent))
		ing.batch.ReplyDeltas[v.ReplyParent]++
		if ing.tracked.IsInteraction(v.Author) {
			ing.batch.Interactions = append(ing.batch.Interactions, &schema.InteractionEdge{
				Actor:          v.Author,
				Target:         v.ReplyParent,
				Type:           schema.InteractionReply,
				Weight:         1,
				IndexedAt:      v.TimeUs / 1000,
				InteractionURI: v.URI,
			})
		}

	case schema.DeletePost:
		ing.batch.Deletes = append(ing.batch.Deletes, v.URI)

	case schema.CreateLike:
		ing.batch.LikeDeltas[v.SubjectURI]++
		if ing.tracked.IsInteraction(v.Actor) {
			ing.batch.Interactions = append(ing.batch.Interactions, &schema.InteractionEdge{
				Actor:          v.Actor,
				Target:         v.SubjectURI,
				Type:           schema.InteractionLike,
				Weight:         1,
				IndexedAt:      v.TimeUs / 1000,
				InteractionURI: v.URI,
			})
		}

	case schema.CreateRepost:
		ing.batch.RepostDeltas[v.SubjectURI]++
		if ing.tracked.IsInteraction(v.Actor) {
			ing.batch.Interactions = append(ing.batch.Interactions, &schema.InteractionEdge{
				Actor:          v.Actor,
				Target:         v.SubjectURI,
				Type:           schema.InteractionRepost,
				Weight:         2,
				IndexedAt:      v.TimeUs / 1000,
				InteractionURI: v.URI,
			})
		}
	}
}

func postFromOp(v schema.CreatePost, root, parent string) *schema.Post {
	return &schema.Post{
		URI:         v.URI,
		CID:         v.CID,
		Author:      v.Author,
		IndexedAt:   v.TimeUs / 1000,
		ReplyRoot:   root,
		ReplyParent: parent,
		Text:        v.Text,
		HasImage:    v.HasImage,
		HasVideo:    v.HasVideo,
		HasExternal: v.HasExternal,
	}
}

// tasteSideEffects runs the synchronous taste and fatigue updates for
// likes and reposts by whitelisted users. Only the small ownDids set
// reaches this path.
func (ing *Ingester) tasteSideEffects(ctx context.Context, actor, subjectURI string, kind schema.InteractionType) {
	if ing.taste == nil || !ing.tracked.IsOwn(actor) {
		return
	}

	post, err := ing.repo.FindPost(subjectURI)
	if err != nil {
		// The subject may predate our index; nothing to update against.
		return
	}

	if kind == schema.InteractionLike {
		ing.taste.OnLike(ctx, actor, post)
	}
	ing.taste.OnInteraction(actor, post.Author, kind)
}

// flush swaps the pending batch out and writes it. On failure the
// deltas are merged back so nothing is lost; the cursor only advances
// after a successful commit.
func (ing *Ingester) flush() {
	ing.mu.Lock()
	pending := ing.batch
	pendingCursor := ing.maxTimeUs
	ing.batch = newBatch()
	ing.mu.Unlock()

	if pending.Empty() {
		return
	}

	if err := ing.repo.ApplyIngestBatch(pending); err != nil {
		log.Errorf("ingester: flush failed, re-queueing batch: %v", err)
		ing.requeue(pending)
		return
	}

	if pendingCursor > 0 {
		if err := ing.repo.SetCursor(ing.service, pendingCursor); err != nil {
			log.Errorf("ingester: persist cursor: %v", err)
		}
	}
}

// requeue merges a failed batch back into the pending one.
func (ing *Ingester) requeue(failed *repository.IngestBatch) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	ing.batch.Posts = append(failed.Posts, ing.batch.Posts...)
	ing.batch.Deletes = append(failed.Deletes, ing.batch.Deletes...)
	ing.batch.Interactions = append(failed.Interactions, ing.batch.Interactions...)
	for uri, n := range failed.LikeDeltas {
		ing.batch.LikeDeltas[uri] += n
	}
	for uri, n := range failed.RepostDeltas {
		ing.batch.RepostDeltas[uri] += n
	}
	for uri, n := range failed.ReplyDeltas {
		ing.batch.ReplyDeltas[uri] += n
	}
}

// runFlusher owns the single flush timer. It performs a final flush on
// shutdown so a graceful stop loses nothing.
func (ing *Ingester) runFlusher(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ing.flush()
			return
		case <-ticker.C:
			ing.flush()
		}
	}
}
