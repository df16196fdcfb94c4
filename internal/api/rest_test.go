// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/internal/auth"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/internal/taste"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	testServiceDid   = "did:web:feeds.test"
	testPublisherDid = "did:plc:publisher"
)

type noLikers struct{}

func (noLikers) PostLikers(ctx context.Context, postURI string, limit int) []string { return nil }

func setup(t *testing.T) (*mux.Router, *repository.Repository) {
	t.Helper()
	repository.Connect(":memory:")
	repo := repository.GetRepository()

	api := &RestApi{
		Authentication: auth.New(testServiceDid, []string{"did:plc:alice"}),
		Repository:     repo,
		Taste:          taste.New(repo, noLikers{}, nil),
		PublisherDid:   testPublisherDid,
		ServiceDid:     testServiceDid,
		Hostname:       "feeds.test",
		FeedRkeys:      []string{"for-you"},
	}

	r := mux.NewRouter()
	api.MountRoutes(r)
	return r, repo
}

func bearer(t *testing.T, iss string) string {
	t.Helper()
	claims := jwt.MapClaims{"iss": iss, "aud": testServiceDid, "exp": time.Now().Add(time.Minute).Unix()}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return "Bearer " + raw
}

func feedQuery(rkey string) string {
	return url.Values{"feed": {"at://" + testPublisherDid + "/app.bsky.feed.generator/" + rkey}}.Encode()
}

func TestUnsupportedAlgorithm(t *testing.T) {
	r, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?"+feedQuery("unknown-feed"), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "UnsupportedAlgorithm", body["error"])
}

func TestUnauthenticatedRequest(t *testing.T) {
	r, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?"+feedQuery("for-you"), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRestrictedAccount(t *testing.T) {
	r, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet,
		"/xrpc/app.bsky.feed.getFeedSkeleton?"+feedQuery("for-you"), nil)
	req.Header.Set("Authorization", bearer(t, "did:plc:mallory"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "AccountRestricted", body["error"])
}

func TestDescribeFeedGenerator(t *testing.T) {
	r, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/xrpc/app.bsky.feed.describeFeedGenerator", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Did   string `json:"did"`
		Feeds []struct {
			URI string `json:"uri"`
		} `json:"feeds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testServiceDid, body.Did)
	require.Len(t, body.Feeds, 1)
	assert.Equal(t, "at://"+testPublisherDid+"/app.bsky.feed.generator/for-you", body.Feeds[0].URI)
}

func TestDidDocument(t *testing.T) {
	r, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testServiceDid)
	assert.Contains(t, w.Body.String(), "BskyFeedGenerator")
}

func TestInteractionSeenAppendsLog(t *testing.T) {
	r, repo := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, repo.ApplyIngestBatch(&repository.IngestBatch{
		Posts: []*schema.Post{{URI: "at://seen-post", CID: "bafy", Author: "did:author", IndexedAt: now}},
	}))

	payload := `{"interactions": [
		{"event": "app.bsky.feed.defs#interactionSeen", "item": "at://seen-post"},
		{"event": "app.bsky.feed.defs#interactionShare", "item": "at://seen-post"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/xrpc/app.bsky.feed.sendInteractions", strings.NewReader(payload))
	req.Header.Set("Authorization", bearer(t, "did:plc:alice"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	counts, err := repo.SeenCounts("did:plc:alice", now-1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["at://seen-post"], "seen logged once; unknown events ignored")
}

func TestRequestLessRoutesToFeedback(t *testing.T) {
	r, repo := setup(t)
	now := time.Now().UnixMilli()

	require.NoError(t, repo.ApplyIngestBatch(&repository.IngestBatch{
		Posts: []*schema.Post{{URI: "at://less-post", CID: "bafy", Author: "did:fatigued", IndexedAt: now}},
	}))

	payload := `{"interactions": [{"event": "app.bsky.feed.defs#requestLess", "item": "at://less-post"}]}`
	req := httptest.NewRequest(http.MethodPost, "/xrpc/app.bsky.feed.sendInteractions", strings.NewReader(payload))
	req.Header.Set("Authorization", bearer(t, "did:plc:alice"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	row, err := repo.GetAuthorFatigue("did:plc:alice", "did:fatigued")
	require.NoError(t, err)
	assert.InDelta(t, 60.0, row.FatigueScore, 1e-9)
	assert.InDelta(t, 0.1, row.AffinityScore, 1e-9) // 1.0 - 5.0, clamped
}
