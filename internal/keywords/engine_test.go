// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package keywords

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/internal/extern"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

type fakeExtractor struct {
	keywords []extern.Keyword
	called   bool
}

func (f *fakeExtractor) Extract(ctx context.Context, liked, background []string) ([]extern.Keyword, error) {
	f.called = true
	return f.keywords, nil
}

func setup(t *testing.T) (*repository.Repository, *fakeExtractor, *Engine) {
	t.Helper()
	repository.Connect(":memory:")
	repo := repository.GetRepository()
	extractor := &fakeExtractor{}
	return repo, extractor, New(repo, extractor)
}

func seedLike(t *testing.T, repo *repository.Repository, userDid, uri, text string) {
	t.Helper()
	now := time.Now().UnixMilli()
	require.NoError(t, repo.ApplyIngestBatch(&repository.IngestBatch{
		Posts: []*schema.Post{{URI: uri, CID: "bafy", Author: "did:someone", IndexedAt: now, Text: text}},
		Interactions: []*schema.InteractionEdge{{
			Actor: userDid, Target: uri, Type: schema.InteractionLike,
			Weight: 1, IndexedAt: now, InteractionURI: uri + "/like",
		}},
	}))
}

func TestDecayFactorParabolic(t *testing.T) {
	// Weak scores barely decay, saturated ones lose the full 15%.
	assert.InDelta(t, 0.97, decayFactor(0.0), 1e-9)
	assert.InDelta(t, 0.85, decayFactor(1.0), 1e-9)
	assert.InDelta(t, 0.85, decayFactor(-1.0), 1e-9)

	// |0.5|: parabolic = 1-(1-0.5)^2 = 0.75 -> 1-(0.03+0.09) = 0.88
	assert.InDelta(t, 0.88, decayFactor(0.5), 1e-9)
}

func TestRebuildMergesAndPrunes(t *testing.T) {
	repo, extractor, engine := setup(t)
	now := time.Now().UnixMilli()

	seedLike(t, repo, "did:u", "at://liked1", "a liked post about synthesizers")
	require.NoError(t, repo.UpsertKeywords([]*schema.UserKeyword{
		{UserDid: "did:u", Keyword: "synthesizers", Score: 0.5, UpdatedAt: now},
		{UserDid: "did:u", Keyword: "stale", Score: 0.08, UpdatedAt: now},
	}))

	extractor.keywords = []extern.Keyword{
		{Word: "synthesizers", Score: 0.2},
		{Word: "modular", Score: 0.4},
	}

	require.NoError(t, engine.RebuildFor(context.Background(), "did:u"))
	require.True(t, extractor.called)

	kws, err := repo.KeywordsFor("did:u")
	require.NoError(t, err)

	byWord := make(map[string]float64)
	for _, kw := range kws {
		byWord[kw.Keyword] = kw.Score
	}

	// 0.88*0.5 + 0.2
	assert.InDelta(t, 0.64, byWord["synthesizers"], 1e-9)
	assert.InDelta(t, 0.4, byWord["modular"], 1e-9)
	// 0.08 decayed further below the prune threshold and is gone.
	assert.NotContains(t, byWord, "stale")
}

func TestRebuildSkipsUserWithoutLikes(t *testing.T) {
	_, extractor, engine := setup(t)

	require.NoError(t, engine.RebuildFor(context.Background(), "did:empty"))
	assert.False(t, extractor.called)
}

func TestScoreClamped(t *testing.T) {
	repo, extractor, engine := setup(t)
	now := time.Now().UnixMilli()

	seedLike(t, repo, "did:c", "at://liked2", "more text for the corpus here")
	require.NoError(t, repo.UpsertKeywords([]*schema.UserKeyword{
		{UserDid: "did:c", Keyword: "maxed", Score: 0.9, UpdatedAt: now},
	}))
	extractor.keywords = []extern.Keyword{{Word: "maxed", Score: 0.9}}

	require.NoError(t, engine.RebuildFor(context.Background(), "did:c"))

	kws, err := repo.KeywordsFor("did:c")
	require.NoError(t, err)
	for _, kw := range kws {
		assert.LessOrEqual(t, kw.Score, 1.0)
		assert.GreaterOrEqual(t, kw.Score, -1.0)
	}
}
