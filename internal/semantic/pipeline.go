// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package semantic materializes per-user candidate batches: it embeds
// harvested and liked posts into the vector index, clusters the liked
// vectors into interest centroids and searches the index per centroid.
package semantic

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nebula-feeds/nebula-backend/internal/appview"
	"github.com/nebula-feeds/nebula-backend/internal/extern"
	"github.com/nebula-feeds/nebula-backend/internal/ranking"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	minEmbedTextLen  = 10
	embedBatchSize   = 32
	likedWindow      = 3 * 24 * time.Hour
	minClusterInput  = 3
	searchThreshold  = 0.25
	reputationFloor  = 0.1
	sandboxPipeline  = -4000.0
	batchKeep        = 1500
	BatchTTL         = 12 * time.Hour
	seenDropCount    = 3
)

type Pipeline struct {
	repo      *repository.Repository
	core      *ranking.Core
	index     VectorIndex
	embedder  extern.Embedder
	clusterer extern.Clusterer
	appview   *appview.Client
}

func NewPipeline(repo *repository.Repository, core *ranking.Core, index VectorIndex,
	embedder extern.Embedder, clusterer extern.Clusterer, av *appview.Client,
) *Pipeline {
	return &Pipeline{repo: repo, core: core, index: index, embedder: embedder, clusterer: clusterer, appview: av}
}

func pointID(userDid, uri string) uint64 {
	return xxhash.Sum64String(userDid + "\x1f" + uri)
}

func profilePointID(userDid, clusterID string) uint64 {
	return xxhash.Sum64String(userDid + "\x1fprofile\x1f" + clusterID)
}

// newBatchID returns a short hex id: two timestamp bytes, two random.
func newBatchID() string {
	var b [4]byte
	binary.BigEndian.PutUint16(b[:2], uint16(time.Now().Unix()))
	rand.Read(b[2:])
	return hex.EncodeToString(b[:])
}

// RunForUser executes the full batch pipeline for one tracked user.
func (pl *Pipeline) RunForUser(ctx context.Context, userDid string) error {
	result, err := pl.core.Rank(userDid, ranking.Params{}, true)
	if err != nil {
		return fmt.Errorf("batch rank for %s: %w", userDid, err)
	}
	if len(result.Items) == 0 {
		log.Debugf("semantic: no candidates for %s, skipping", userDid)
		return nil
	}

	pipelineScores := make(map[string]float64, len(result.Items))
	candidatePosts := make(map[string]*schema.Post, len(result.Items))
	for _, item := range result.Items {
		pipelineScores[item.Post.URI] = item.Score
		candidatePosts[item.Post.URI] = item.Post
	}

	embedded, err := pl.embeddedURIs(ctx, userDid)
	if err != nil {
		log.Warnf("semantic: list embedded points for %s: %v", userDid, err)
		embedded = make(map[string]bool)
	}

	if err := pl.embedCandidates(ctx, userDid, candidatePosts, embedded); err != nil {
		log.Warnf("semantic: candidate embedding for %s: %v", userDid, err)
	}

	likedURIs, err := pl.embedLiked(ctx, userDid, embedded)
	if err != nil {
		log.Warnf("semantic: liked embedding for %s: %v", userDid, err)
	}

	centroids, err := pl.buildProfile(ctx, userDid, likedURIs)
	if err != nil {
		return fmt.Errorf("profile build for %s: %w", userDid, err)
	}
	if len(centroids) == 0 {
		log.Debugf("semantic: %s has no interest centroids yet", userDid)
		return nil
	}

	rows, err := pl.searchCentroids(ctx, userDid, centroids, pipelineScores, likedURIs)
	if err != nil {
		return fmt.Errorf("centroid search for %s: %w", userDid, err)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := pl.repo.InsertCandidateBatch(rows); err != nil {
		return fmt.Errorf("persist batch for %s: %w", userDid, err)
	}
	log.Infof("semantic: wrote %d candidates for %s", len(rows), userDid)

	pl.gc(ctx, userDid, rows, likedURIs)
	return nil
}

// embeddedURIs returns the URIs already present in the index under
// this user's partition.
func (pl *Pipeline) embeddedURIs(ctx context.Context, userDid string) (map[string]bool, error) {
	points, err := pl.index.Scroll(ctx, CollectionPosts, Filter{"discoveredBy": userDid}, 1000, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(points))
	for _, pt := range points {
		if uri, ok := pt.Payload["uri"].(string); ok {
			out[uri] = true
		}
	}
	return out, nil
}

// embedCandidates pushes the not-yet-embedded harvest into the index.
// Text-only posts embed directly; posts with images (or no usable
// text) are hydrated through the AppView first.
func (pl *Pipeline) embedCandidates(ctx context.Context, userDid string, posts map[string]*schema.Post, embedded map[string]bool) error {
	var plain []*extern.EmbedInput
	var needsHydration []string

	for uri, p := range posts {
		if embedded[uri] || len(p.Text) <= minEmbedTextLen {
			if !embedded[uri] && p.HasImage {
				needsHydration = append(needsHydration, uri)
			}
			continue
		}
		if p.HasImage {
			needsHydration = append(needsHydration, uri)
			continue
		}
		plain = append(plain, &extern.EmbedInput{URI: uri, Text: p.Text})
	}

	if len(needsHydration) > 0 {
		views, err := pl.appview.GetPosts(ctx, needsHydration)
		if err != nil {
			log.Warnf("semantic: hydrate %d posts: %v", len(needsHydration), err)
		}
		for _, v := range views {
			plain = append(plain, &extern.EmbedInput{
				URI:       v.URI,
				Text:      v.Text,
				ImageURLs: v.ImageURLs,
				AltText:   v.AltTexts,
			})
		}
	}

	return pl.embedAndUpsert(ctx, userDid, plain, posts)
}

// embedLiked embeds the user's recent like/repost subjects and returns
// the liked URI set.
func (pl *Pipeline) embedLiked(ctx context.Context, userDid string, embedded map[string]bool) (map[string]bool, error) {
	since := time.Now().Add(-likedWindow).UnixMilli()
	edges, err := pl.repo.InteractionsByActor(userDid, since)
	if err != nil {
		return nil, err
	}

	liked := make(map[string]bool)
	var missing []string
	for _, e := range edges {
		if e.Type != schema.InteractionLike && e.Type != schema.InteractionRepost {
			continue
		}
		liked[e.Target] = true
		if !embedded[e.Target] {
			missing = append(missing, e.Target)
		}
	}

	if len(missing) == 0 {
		return liked, nil
	}

	posts, err := pl.repo.FindPosts(missing)
	if err != nil {
		return liked, err
	}

	inputs := make([]*extern.EmbedInput, 0, len(posts))
	for uri, p := range posts {
		if len(p.Text) <= minEmbedTextLen && !p.HasImage {
			continue
		}
		inputs = append(inputs, &extern.EmbedInput{URI: uri, Text: p.Text})
	}

	return liked, pl.embedAndUpsert(ctx, userDid, inputs, posts)
}

// embedAndUpsert runs the embedder in batches and upserts the non-zero
// vectors under the user's partition.
func (pl *Pipeline) embedAndUpsert(ctx context.Context, userDid string, inputs []*extern.EmbedInput, posts map[string]*schema.Post) error {
	for start := 0; start < len(inputs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		outputs, err := pl.embedder.Embed(ctx, inputs[start:end])
		if err != nil {
			return err
		}

		points := make([]*Point, 0, len(outputs))
		for _, out := range outputs {
			if len(out.Vector) != VectorDim || isZeroVector(out.Vector) {
				log.Warnf("semantic: rejected zero/short vector for %s", out.URI)
				continue
			}

			payload := map[string]interface{}{
				"uri":          out.URI,
				"discoveredBy": userDid,
			}
			if p, ok := posts[out.URI]; ok {
				payload["author"] = p.Author
				payload["indexedAt"] = p.IndexedAt
				payload["likeCount"] = p.LikeCount
			}

			points = append(points, &Point{
				ID:      pointID(userDid, out.URI),
				Vector:  out.Vector,
				Payload: payload,
			})
		}

		if err := pl.index.Upsert(ctx, CollectionPosts, points); err != nil {
			return err
		}
	}
	return nil
}

func isZeroVector(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
