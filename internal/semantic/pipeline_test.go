// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package semantic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// fakeIndex is an in-memory VectorIndex for tests.
type fakeIndex struct {
	points map[string][]*Point
	hits   []*ScoredPoint
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string][]*Point)}
}

func (f *fakeIndex) EnsureCollections(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, collection string, points []*Point) error {
	f.points[collection] = append(f.points[collection], points...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vector []float64, limit int, scoreThreshold float64, filter Filter) ([]*ScoredPoint, error) {
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Scroll(ctx context.Context, collection string, filter Filter, limit int, withVector bool) ([]*Point, error) {
	return f.points[collection], nil
}

func (f *fakeIndex) Delete(ctx context.Context, collection string, filter Filter) error {
	f.points[collection] = nil
	return nil
}

func (f *fakeIndex) DeletePoints(ctx context.Context, collection string, ids []uint64) error {
	kept := f.points[collection][:0]
	drop := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for _, pt := range f.points[collection] {
		if !drop[pt.ID] {
			kept = append(kept, pt)
		}
	}
	f.points[collection] = kept
	return nil
}

func TestPointIDDeterministic(t *testing.T) {
	a := pointID("did:u", "at://p")
	b := pointID("did:u", "at://p")
	c := pointID("did:v", "at://p")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "per-user partitioning requires distinct ids")
}

func TestNewBatchIDFormat(t *testing.T) {
	id := newBatchID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, newBatchID())
}

func TestIsZeroVector(t *testing.T) {
	assert.True(t, isZeroVector(make([]float64, VectorDim)))

	v := make([]float64, VectorDim)
	v[7] = 0.1
	assert.False(t, isZeroVector(v))
}

func TestNormalize(t *testing.T) {
	v := make([]float64, VectorDim)
	v[0], v[1] = 3, 4

	n := normalize(v)
	require.NotNil(t, n)
	assert.InDelta(t, 0.6, n[0], 1e-9)
	assert.InDelta(t, 0.8, n[1], 1e-9)

	assert.Nil(t, normalize(make([]float64, VectorDim)), "zero vector has no direction")
	assert.Nil(t, normalize([]float64{1, 2}), "wrong dimensionality")
}

func TestSearchCentroidsFiltersAndSandboxes(t *testing.T) {
	repository.Connect(":memory:")
	repo := repository.GetRepository()

	index := newFakeIndex()
	index.hits = []*ScoredPoint{
		{ID: 1, Score: 0.9, Payload: map[string]interface{}{"uri": "at://known", "author": "did:a"}},
		{ID: 2, Score: 0.8, Payload: map[string]interface{}{"uri": "at://discovery", "author": "did:b"}},
		{ID: 3, Score: 0.7, Payload: map[string]interface{}{"uri": "at://liked", "author": "did:c"}},
		{ID: 4, Score: 0.6, Payload: map[string]interface{}{"uri": "at://lowrep", "author": "did:bad"}},
	}

	now := time.Now().UnixMilli()
	require.NoError(t, repo.PutTasteReputation(&schema.TasteReputation{
		UserDid: "did:u", SimilarUserDid: "did:bad",
		ReputationScore: 0.05, DecayRate: 0.95, LastSeenAt: now, UpdatedAt: now,
	}))

	pl := &Pipeline{repo: repo, index: index}
	rows, err := pl.searchCentroids(context.Background(), "did:u",
		[]*centroid{{clusterID: "c0", vector: make([]float64, VectorDim), weight: 1.0}},
		map[string]float64{"at://known": 1234},
		map[string]bool{"at://liked": true})
	require.NoError(t, err)

	byURI := make(map[string]*schema.CandidateBatchRow)
	for _, row := range rows {
		byURI[row.URI] = row
	}

	require.Contains(t, byURI, "at://known")
	assert.Equal(t, 1234.0, byURI["at://known"].PipelineScore)

	require.Contains(t, byURI, "at://discovery")
	assert.Equal(t, sandboxPipeline, byURI["at://discovery"].PipelineScore)

	assert.NotContains(t, byURI, "at://liked", "liked posts are not candidates")
	assert.NotContains(t, byURI, "at://lowrep", "low-reputation authors are dropped")
}

func TestSearchCentroidsDedupKeepsMaxScore(t *testing.T) {
	repository.Connect(":memory:")
	repo := repository.GetRepository()

	index := newFakeIndex()
	index.hits = []*ScoredPoint{
		{ID: 1, Score: 0.4, Payload: map[string]interface{}{"uri": "at://dup", "author": "did:a"}},
		{ID: 1, Score: 0.9, Payload: map[string]interface{}{"uri": "at://dup", "author": "did:a"}},
	}

	pl := &Pipeline{repo: repo, index: index}
	rows, err := pl.searchCentroids(context.Background(), "did:u2",
		[]*centroid{{clusterID: "c0", vector: make([]float64, VectorDim), weight: 0.5}},
		nil, nil)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.InDelta(t, 0.9, rows[0].SemanticScore, 1e-9)
}

func TestGCRemovesOrphans(t *testing.T) {
	repository.Connect(":memory:")
	repo := repository.GetRepository()

	index := newFakeIndex()
	index.points[CollectionPosts] = []*Point{
		{ID: 1, Payload: map[string]interface{}{"uri": "at://kept", "discoveredBy": "did:u3"}},
		{ID: 2, Payload: map[string]interface{}{"uri": "at://orphan", "discoveredBy": "did:u3"}},
	}

	pl := &Pipeline{repo: repo, index: index}
	pl.gc(context.Background(), "did:u3",
		[]*schema.CandidateBatchRow{{UserDid: "did:u3", URI: "at://kept"}},
		nil)

	uris := make([]string, 0)
	for _, pt := range index.points[CollectionPosts] {
		uris = append(uris, fmt.Sprint(pt.Payload["uri"]))
	}
	assert.ElementsMatch(t, []string{"at://kept"}, uris)
}
