// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/internal/appview"
	"github.com/nebula-feeds/nebula-backend/internal/graphsvc"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func setupCore(t *testing.T) (*Core, *repository.Repository) {
	t.Helper()
	repository.Connect(":memory:")
	repo := repository.GetRepository()
	return New(repo, graphsvc.New(repo, appview.New("http://127.0.0.1:1"))), repo
}

func TestRankServesFollowedAuthors(t *testing.T) {
	c, repo := setupCore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, repo.InsertFollows([]*schema.FollowEdge{
		{Follower: "did:rank-u", Followee: "did:friend", IndexedAt: now},
	}))

	posts := make([]*schema.Post, 0, 5)
	for i := 0; i < 5; i++ {
		posts = append(posts, &schema.Post{
			URI: fmt.Sprintf("at://friend/%d", i), CID: "bafy", Author: "did:friend",
			IndexedAt: now - int64(i)*time.Hour.Milliseconds(), LikeCount: 3,
		})
	}
	require.NoError(t, repo.ApplyIngestBatch(&repository.IngestBatch{Posts: posts}))

	res, err := c.Rank("did:rank-u", Params{Limit: 10}, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)

	for _, item := range res.Items {
		assert.Equal(t, "did:friend", item.Post.Author)
		assert.Positive(t, item.Signals["tier"])
	}
}

func TestRankOmitsAlreadyLiked(t *testing.T) {
	c, repo := setupCore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, repo.InsertFollows([]*schema.FollowEdge{
		{Follower: "did:liker", Followee: "did:poet", IndexedAt: now},
	}))
	require.NoError(t, repo.ApplyIngestBatch(&repository.IngestBatch{
		Posts: []*schema.Post{
			{URI: "at://poet/loved", CID: "bafy", Author: "did:poet", IndexedAt: now, LikeCount: 9},
			{URI: "at://poet/fresh", CID: "bafy", Author: "did:poet", IndexedAt: now, LikeCount: 9},
		},
		Interactions: []*schema.InteractionEdge{{
			Actor: "did:liker", Target: "at://poet/loved", Type: schema.InteractionLike,
			Weight: 1, IndexedAt: now, InteractionURI: "at://liker/like/1",
		}},
	}))

	res, err := c.Rank("did:liker", Params{Limit: 10}, false)
	require.NoError(t, err)

	for _, item := range res.Items {
		assert.NotEqual(t, "at://poet/loved", item.Post.URI,
			"an already-liked post must never appear in a rank response")
	}
}

func TestBatchModeReturnsWholePoolWithSignals(t *testing.T) {
	c, repo := setupCore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, repo.InsertFollows([]*schema.FollowEdge{
		{Follower: "did:batcher", Followee: "did:src", IndexedAt: now},
	}))

	posts := make([]*schema.Post, 0, 150)
	for i := 0; i < 150; i++ {
		posts = append(posts, &schema.Post{
			URI: fmt.Sprintf("at://src/%d", i), CID: "bafy", Author: "did:src",
			IndexedAt: now - int64(i)*time.Minute.Milliseconds(), LikeCount: int64(i % 7),
		})
	}
	require.NoError(t, repo.ApplyIngestBatch(&repository.IngestBatch{Posts: posts}))

	res, err := c.Rank("did:batcher", Params{}, true)
	require.NoError(t, err)
	assert.Greater(t, len(res.Items), maxLimit, "batch mode does not paginate")
	assert.Empty(t, res.Cursor)

	for _, item := range res.Items {
		assert.NotNil(t, item.Post)
		assert.NotEmpty(t, item.Signals)
	}
}
