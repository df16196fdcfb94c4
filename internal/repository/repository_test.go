// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func setup(t *testing.T) *Repository {
	t.Helper()
	Connect(":memory:")
	return GetRepository()
}

func testPost(uri, author string, indexedAt int64) *schema.Post {
	return &schema.Post{URI: uri, CID: "bafytest", Author: author, IndexedAt: indexedAt}
}

func TestApplyIngestBatch(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	batch := &IngestBatch{
		Posts:      []*schema.Post{testPost("at://p1", "did:plc:alice", now)},
		LikeDeltas: map[string]int64{"at://p1": 1},
		Interactions: []*schema.InteractionEdge{{
			Actor: "did:plc:bob", Target: "at://p1", Type: schema.InteractionLike,
			Weight: 1, IndexedAt: now, InteractionURI: "at://like1",
		}},
	}
	require.NoError(t, r.ApplyIngestBatch(batch))

	p, err := r.FindPost("at://p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.LikeCount)

	// Replaying the same batch: the post insert and the interaction
	// are absorbed by the unique keys, the counter delta is not.
	require.NoError(t, r.ApplyIngestBatch(batch))

	p, err = r.FindPost("at://p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.LikeCount)

	var interactions int
	require.NoError(t, r.DB.Get(&interactions,
		"SELECT COUNT(*) FROM graph_interaction WHERE actor = ? AND target = ? AND type = 'like'",
		"did:plc:bob", "at://p1"))
	assert.Equal(t, 1, interactions, "unique (actor,target,type) must hold")
}

func TestCounterNonNegativity(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, r.ApplyIngestBatch(&IngestBatch{
		Posts: []*schema.Post{testPost("at://neg", "did:plc:alice", now)},
	}))
	require.NoError(t, r.ApplyIngestBatch(&IngestBatch{
		LikeDeltas: map[string]int64{"at://neg": -5},
	}))

	p, err := r.FindPost("at://neg")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.LikeCount, int64(0))
}

func TestCursorRoundtrip(t *testing.T) {
	r := setup(t)

	cursor, err := r.Cursor("jetstream-test")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	require.NoError(t, r.SetCursor("jetstream-test", 300))
	cursor, err = r.Cursor("jetstream-test")
	require.NoError(t, err)
	assert.Equal(t, int64(300), cursor)
}

func TestPostDeletion(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, r.ApplyIngestBatch(&IngestBatch{
		Posts: []*schema.Post{testPost("at://gone", "did:plc:alice", now)},
	}))
	require.NoError(t, r.ApplyIngestBatch(&IngestBatch{
		Deletes: []string{"at://gone"},
	}))

	_, err := r.FindPost("at://gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowGraphQueries(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	edges := []*schema.FollowEdge{
		{Follower: "did:u", Followee: "did:a", IndexedAt: now},
		{Follower: "did:u", Followee: "did:b", IndexedAt: now},
		{Follower: "did:a", Followee: "did:u", IndexedAt: now}, // mutual
		{Follower: "did:a", Followee: "did:c", IndexedAt: now}, // L2
		{Follower: "did:b", Followee: "did:a", IndexedAt: now}, // already L1
	}
	require.NoError(t, r.InsertFollows(edges))
	// Duplicate insert is a no-op.
	require.NoError(t, r.InsertFollows(edges[:1]))

	l1, err := r.L1Follows("did:u")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:a", "did:b"}, l1)

	l2, err := r.L2Follows("did:u")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:c"}, l2)

	mutuals, err := r.Mutuals("did:u")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:a"}, mutuals)

	counts, err := r.L2FollowCounts([]string{"did:a", "did:b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["did:c"])
	assert.Equal(t, int64(1), counts["did:a"])
}

func TestTasteReputationUpsertAndTwins(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	row := &schema.TasteReputation{
		UserDid: "did:u", SimilarUserDid: "did:x",
		ReputationScore: 1.2, DecayRate: 0.95,
		LastSeenAt: now, UpdatedAt: now,
	}
	require.NoError(t, r.PutTasteReputation(row))

	row.ReputationScore = 4.9
	require.NoError(t, r.PutTasteReputation(row))

	got, err := r.GetTasteReputation("did:u", "did:x")
	require.NoError(t, err)
	assert.InDelta(t, 4.9, got.ReputationScore, 1e-9)

	twins, err := r.TasteTwins("did:u", 1.0, 10)
	require.NoError(t, err)
	assert.Contains(t, twins, "did:x")
}

func TestKeywordPrune(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, r.UpsertKeywords([]*schema.UserKeyword{
		{UserDid: "did:u", Keyword: "golang", Score: 0.8, UpdatedAt: now},
		{UserDid: "did:u", Keyword: "fading", Score: 0.05, UpdatedAt: now},
	}))
	require.NoError(t, r.PruneKeywords("did:u", 0.1))

	kws, err := r.KeywordsFor("did:u")
	require.NoError(t, err)
	require.Len(t, kws, 1)
	assert.Equal(t, "golang", kws[0].Keyword)
}

func TestSeenCountsAndGC(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, r.InsertSeen("did:u", "at://s1", now-1000))
	require.NoError(t, r.InsertSeen("did:u", "at://s1", now))
	require.NoError(t, r.InsertSeen("did:u", "at://s2", now))

	counts, err := r.SeenCounts("did:u", now-10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["at://s1"])
	assert.Equal(t, int64(1), counts["at://s2"])

	removed, err := r.GCSeen(now + 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestCandidateBatchLifecycle(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	rows := []*schema.CandidateBatchRow{
		{UserDid: "did:u", URI: "at://c1", SemanticScore: 0.9, PipelineScore: 100, BatchID: "aabbccdd", GeneratedAt: now},
		{UserDid: "did:u", URI: "at://c2", SemanticScore: 0.5, PipelineScore: -4000, BatchID: "aabbccdd", GeneratedAt: now},
	}
	require.NoError(t, r.InsertCandidateBatch(rows))

	loaded, err := r.CandidateBatch("did:u", now-1)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	removed, err := r.GCCandidateBatches(now + 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestInteractedAuthors(t *testing.T) {
	r := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, r.ApplyIngestBatch(&IngestBatch{
		Posts: []*schema.Post{testPost("at://ia1", "did:author", now)},
		Interactions: []*schema.InteractionEdge{{
			Actor: "did:u2", Target: "at://ia1", Type: schema.InteractionLike,
			Weight: 1, IndexedAt: now, InteractionURI: "at://like-ia",
		}},
	}))

	authors, err := r.InteractedAuthors("did:u2", now-1000)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:author"}, authors)
}
