// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/extern"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// centroid is one interest cluster of the user's liked vectors.
type centroid struct {
	clusterID string
	vector    []float64
	weight    float64
	postCount int
}

// buildProfile clusters the user's liked-post vectors and replaces the
// stored profile points. Users with fewer than three liked vectors
// keep their previous profile.
func (pl *Pipeline) buildProfile(ctx context.Context, userDid string, liked map[string]bool) ([]*centroid, error) {
	points, err := pl.index.Scroll(ctx, CollectionPosts, Filter{"discoveredBy": userDid}, 1000, true)
	if err != nil {
		return nil, err
	}

	var inputs []*extern.ClusterInput
	for _, pt := range points {
		uri, _ := pt.Payload["uri"].(string)
		if !liked[uri] || len(pt.Vector) != VectorDim {
			continue
		}
		inputs = append(inputs, &extern.ClusterInput{Vector: pt.Vector})
	}

	if len(inputs) < minClusterInput {
		return pl.loadProfile(ctx, userDid)
	}

	clusters, err := pl.clusterer.Cluster(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("cluster %d vectors: %w", len(inputs), err)
	}
	if len(clusters) == 0 {
		return pl.loadProfile(ctx, userDid)
	}

	if err := pl.index.Delete(ctx, CollectionProfiles, Filter{"userDid": userDid}); err != nil {
		log.Warnf("semantic: clear profile for %s: %v", userDid, err)
	}

	now := time.Now().UnixMilli()
	out := make([]*centroid, 0, len(clusters))
	profilePoints := make([]*Point, 0, len(clusters))
	for _, cl := range clusters {
		vec := normalize(cl.Centroid)
		if vec == nil {
			continue
		}

		out = append(out, &centroid{
			clusterID: cl.ClusterID,
			vector:    vec,
			weight:    cl.Weight,
			postCount: cl.PostCount,
		})
		profilePoints = append(profilePoints, &Point{
			ID:     profilePointID(userDid, cl.ClusterID),
			Vector: vec,
			Payload: map[string]interface{}{
				"userDid":   userDid,
				"clusterId": cl.ClusterID,
				"weight":    cl.Weight,
				"postCount": cl.PostCount,
				"updatedAt": now,
			},
		})
	}

	if err := pl.index.Upsert(ctx, CollectionProfiles, profilePoints); err != nil {
		return nil, err
	}
	return out, nil
}

// loadProfile reads the stored centroids back from the index.
func (pl *Pipeline) loadProfile(ctx context.Context, userDid string) ([]*centroid, error) {
	points, err := pl.index.Scroll(ctx, CollectionProfiles, Filter{"userDid": userDid}, 100, true)
	if err != nil {
		return nil, err
	}

	out := make([]*centroid, 0, len(points))
	for _, pt := range points {
		clusterID, _ := pt.Payload["clusterId"].(string)
		weight, _ := pt.Payload["weight"].(float64)
		postCount, _ := pt.Payload["postCount"].(float64)
		if len(pt.Vector) != VectorDim {
			continue
		}
		out = append(out, &centroid{
			clusterID: clusterID,
			vector:    pt.Vector,
			weight:    weight,
			postCount: int(postCount),
		})
	}
	return out, nil
}

func normalize(v []float64) []float64 {
	if len(v) != VectorDim {
		return nil
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// searchCentroids runs the per-centroid ANN search and assembles the
// deduplicated candidate-batch rows.
func (pl *Pipeline) searchCentroids(ctx context.Context, userDid string, centroids []*centroid,
	pipelineScores map[string]float64, liked map[string]bool,
) ([]*schema.CandidateBatchRow, error) {
	seen, err := pl.repo.SeenCounts(userDid, time.Now().Add(-7*24*time.Hour).UnixMilli())
	if err != nil {
		return nil, err
	}
	reputations, err := pl.repo.ReputationsFor(userDid)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	batchID := newBatchID()
	best := make(map[string]*schema.CandidateBatchRow)

	for _, cen := range centroids {
		limit := int(math.Round(400*cen.weight)) + 200
		hits, err := pl.index.Search(ctx, CollectionPosts, cen.vector, limit, searchThreshold,
			Filter{"discoveredBy": userDid})
		if err != nil {
			log.Warnf("semantic: search centroid %s: %v", cen.clusterID, err)
			continue
		}

		for _, hit := range hits {
			uri, _ := hit.Payload["uri"].(string)
			if uri == "" || liked[uri] || seen[uri] >= seenDropCount {
				continue
			}
			author, _ := hit.Payload["author"].(string)
			if rep, ok := reputations[author]; ok && rep < reputationFloor {
				continue
			}

			pipelineScore, inPipeline := pipelineScores[uri]
			if !inPipeline {
				// Discovery sandbox: the live pipeline never saw it.
				pipelineScore = sandboxPipeline
			}

			row, ok := best[uri]
			if !ok || hit.Score > row.SemanticScore {
				best[uri] = &schema.CandidateBatchRow{
					UserDid:       userDid,
					URI:           uri,
					SemanticScore: hit.Score,
					PipelineScore: pipelineScore,
					CentroidID:    cen.clusterID,
					BatchID:       batchID,
					GeneratedAt:   now,
				}
			}
		}
	}

	rows := make([]*schema.CandidateBatchRow, 0, len(best))
	for _, row := range best {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SemanticScore > rows[j].SemanticScore })
	if len(rows) > batchKeep {
		rows = rows[:batchKeep]
	}
	return rows, nil
}

// gc drops expired batch rows and index points nothing references
// anymore.
func (pl *Pipeline) gc(ctx context.Context, userDid string, kept []*schema.CandidateBatchRow, liked map[string]bool) {
	if _, err := pl.repo.GCCandidateBatches(time.Now().Add(-BatchTTL).UnixMilli()); err != nil {
		log.Warnf("semantic: batch GC: %v", err)
	}

	referenced := make(map[string]bool, len(kept)+len(liked))
	for _, row := range kept {
		referenced[row.URI] = true
	}
	for uri := range liked {
		referenced[uri] = true
	}

	points, err := pl.index.Scroll(ctx, CollectionPosts, Filter{"discoveredBy": userDid}, 1000, false)
	if err != nil {
		log.Warnf("semantic: orphan scan for %s: %v", userDid, err)
		return
	}

	var orphans []uint64
	for _, pt := range points {
		if uri, ok := pt.Payload["uri"].(string); ok && !referenced[uri] {
			orphans = append(orphans, pt.ID)
		}
	}
	if len(orphans) > 0 {
		if err := pl.index.DeletePoints(ctx, CollectionPosts, orphans); err != nil {
			log.Warnf("semantic: orphan delete for %s: %v", userDid, err)
		} else {
			log.Debugf("semantic: removed %d orphaned points for %s", len(orphans), userDid)
		}
	}
}
