// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// The vector index is an opaque cosine-distance ANN store with a
// Qdrant-compatible REST surface. Points are partitioned per user via
// the discoveredBy payload field so one user's vectors never leak into
// another's searches.
const (
	CollectionPosts    = "post_embeddings"
	CollectionProfiles = "user_profiles"
	VectorDim          = 512
)

// Point is one stored vector with its payload.
type Point struct {
	ID      uint64                 `json:"id"`
	Vector  []float64              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Filter is a conjunction of exact payload matches.
type Filter map[string]interface{}

// ScoredPoint is one ANN hit.
type ScoredPoint struct {
	ID      uint64                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// VectorIndex is the ANN store interface the pipeline runs against.
type VectorIndex interface {
	EnsureCollections(ctx context.Context) error
	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float64, limit int, scoreThreshold float64, filter Filter) ([]*ScoredPoint, error)
	Scroll(ctx context.Context, collection string, filter Filter, limit int, withVector bool) ([]*Point, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	DeletePoints(ctx context.Context, collection string, ids []uint64) error
}

// HTTPIndex talks to the index over its REST API.
type HTTPIndex struct {
	baseURL string
	client  *http.Client
}

func NewHTTPIndex(baseURL string) *HTTPIndex {
	return &HTTPIndex{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (x *HTTPIndex) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("vector index %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func matchConditions(filter Filter) []map[string]interface{} {
	conds := make([]map[string]interface{}, 0, len(filter))
	for key, value := range filter {
		conds = append(conds, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		})
	}
	return conds
}

// EnsureCollections creates both collections and their payload indexes
// if absent.
func (x *HTTPIndex) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{CollectionPosts, CollectionProfiles} {
		body := map[string]interface{}{
			"vectors": map[string]interface{}{"size": VectorDim, "distance": "Cosine"},
		}
		if err := x.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
			// Collection may already exist; the index answers 409.
			continue
		}
	}

	indexFields := map[string][]string{
		CollectionPosts:    {"uri", "author", "indexedAt", "likeCount", "discoveredBy"},
		CollectionProfiles: {"userDid", "clusterId", "updatedAt"},
	}
	for collection, fields := range indexFields {
		for _, field := range fields {
			body := map[string]interface{}{"field_name": field, "field_schema": "keyword"}
			if field == "indexedAt" || field == "likeCount" || field == "updatedAt" {
				body["field_schema"] = "integer"
			}
			x.do(ctx, http.MethodPut, "/collections/"+collection+"/index", body, nil)
		}
	}
	return nil
}

func (x *HTTPIndex) Upsert(ctx context.Context, collection string, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]interface{}{"points": points}
	return x.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

func (x *HTTPIndex) Search(ctx context.Context, collection string, vector []float64, limit int, scoreThreshold float64, filter Filter) ([]*ScoredPoint, error) {
	body := map[string]interface{}{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}
	if len(filter) > 0 {
		body["filter"] = map[string]interface{}{"must": matchConditions(filter)}
	}

	var resp struct {
		Result []*ScoredPoint `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (x *HTTPIndex) Scroll(ctx context.Context, collection string, filter Filter, limit int, withVector bool) ([]*Point, error) {
	var out []*Point
	var offset interface{}

	for {
		body := map[string]interface{}{
			"limit":        limit,
			"with_payload": true,
			"with_vector":  withVector,
		}
		if len(filter) > 0 {
			body["filter"] = map[string]interface{}{"must": matchConditions(filter)}
		}
		if offset != nil {
			body["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points         []*Point    `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := x.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &resp); err != nil {
			return out, err
		}

		out = append(out, resp.Result.Points...)
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			return out, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (x *HTTPIndex) Delete(ctx context.Context, collection string, filter Filter) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{"must": matchConditions(filter)},
	}
	return x.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
}

func (x *HTTPIndex) DeletePoints(ctx context.Context, collection string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{"points": ids}
	return x.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
}
