// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

func emptyContext(userDid string) *rankContext {
	return &rankContext{
		userDid:      userDid,
		nowMs:        time.Now().UnixMilli(),
		l1:           map[string]bool{},
		l2:           map[string]bool{},
		mutuals:      map[string]bool{},
		interacted:   map[string]bool{},
		influL2:      map[string]bool{},
		twins:        map[string]float64{},
		twinLiked:    map[string]twinLikes{},
		fatigue:      map[string]*schema.AuthorFatigue{},
		seen:         map[string]int64{},
		likedURIs:    map[string]bool{},
		repostedURIs: map[string]bool{},
		repliedURIs:  map[string]bool{},
	}
}

func TestWholeWordMatch(t *testing.T) {
	assert.True(t, wholeWordMatch("the gopher digs", "gopher"))
	assert.True(t, wholeWordMatch("gopher", "gopher"))
	assert.True(t, wholeWordMatch("a gopher.", "gopher"))
	assert.False(t, wholeWordMatch("gophers dig", "gopher"))
	assert.False(t, wholeWordMatch("nogopher", "gopher"))
	assert.False(t, wholeWordMatch("text", ""))
}

func TestSeenMultiplier(t *testing.T) {
	c := &Core{}
	rc := emptyContext("did:u")
	rc.l1["did:a"] = true

	post := &schema.Post{
		URI: "at://seen", Author: "did:a",
		IndexedAt: rc.nowMs - 2*time.Hour.Milliseconds(),
		LikeCount: 4,
	}
	rc.seen["at://seen"] = 2

	cand := &Candidate{Post: post, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, false)

	unseen := &Candidate{Post: post, Signals: map[string]float64{}}
	rcClean := emptyContext("did:u")
	rcClean.nowMs = rc.nowMs
	rcClean.l1["did:a"] = true
	c.score(rcClean, unseen, nil, nil, nil, false)

	// Two sightings quarter the score.
	assert.InDelta(t, unseen.Score*0.25, cand.Score, 1e-6)
	assert.InDelta(t, 0.25, cand.Signals["seen_multiplier"], 1e-9)
}

func TestSeenMultiplierSkippedInBatchMode(t *testing.T) {
	c := &Core{}
	rc := emptyContext("did:u")
	rc.l1["did:a"] = true
	rc.seen["at://seen"] = 2

	post := &schema.Post{
		URI: "at://seen", Author: "did:a",
		IndexedAt: rc.nowMs - 2*time.Hour.Milliseconds(),
		LikeCount: 4,
	}
	cand := &Candidate{Post: post, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, true)

	assert.NotContains(t, cand.Signals, "seen_multiplier")
}

func TestSandboxPenalty(t *testing.T) {
	c := &Core{}
	rc := emptyContext("did:u")

	post := &schema.Post{
		URI: "at://out", Author: "did:stranger",
		IndexedAt: rc.nowMs - time.Hour.Milliseconds(),
		LikeCount: 3,
	}
	cand := &Candidate{Post: post, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, false)
	assert.Equal(t, -4000.0, cand.Signals["sandbox"])

	// Heavily liked strangers pay a reduced toll.
	popular := &schema.Post{
		URI: "at://pop", Author: "did:stranger",
		IndexedAt: rc.nowMs - time.Hour.Milliseconds(),
		LikeCount: 80,
	}
	cand = &Candidate{Post: popular, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, false)
	assert.Equal(t, -1500.0, cand.Signals["sandbox"])

	// Batch mode softens the sandbox for discovery.
	cand = &Candidate{Post: post, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, true)
	assert.Equal(t, -2000.0, cand.Signals["sandbox"])
}

func TestAlreadyInteractedPenalties(t *testing.T) {
	c := &Core{}
	rc := emptyContext("did:u")
	rc.l1["did:a"] = true
	rc.likedURIs["at://x"] = true
	rc.repostedURIs["at://x"] = true
	rc.repliedURIs["at://x"] = true

	post := &schema.Post{URI: "at://x", Author: "did:a", IndexedAt: rc.nowMs, LikeCount: 1}
	cand := &Candidate{Post: post, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, false)

	assert.Equal(t, -8000.0, cand.Signals["already_liked"])
	assert.Equal(t, -6000.0, cand.Signals["already_reposted"])
	assert.Equal(t, -5000.0, cand.Signals["already_replied"])
}

func TestTasteSignalConsensus(t *testing.T) {
	c := &Core{}
	rc := emptyContext("did:u")
	rc.l1["did:a"] = true
	rc.twinLiked["at://t"] = twinLikes{count: 3, maxRep: 2.0}

	post := &schema.Post{URI: "at://t", Author: "did:a", IndexedAt: rc.nowMs, LikeCount: 1}
	cand := &Candidate{Post: post, Signals: map[string]float64{}}
	c.score(rc, cand, nil, nil, nil, false)

	// 2.0 * 2500 * (1 + 0.8*2)
	assert.InDelta(t, 2.0*2500*2.6, cand.Signals["taste"], 1e-6)
}

func TestJitterIsDeterministic(t *testing.T) {
	c := &Core{}
	post := &schema.Post{URI: "at://j", Author: "did:a", IndexedAt: time.Now().UnixMilli(), LikeCount: 1}

	jitters := make(map[float64]bool)
	for i := 0; i < 3; i++ {
		rc := emptyContext("did:u")
		rc.l1["did:a"] = true
		cand := &Candidate{Post: post, Signals: map[string]float64{}}
		c.score(rc, cand, nil, nil, nil, false)
		jitters[cand.Signals["jitter"]] = true
	}
	assert.Len(t, jitters, 1, "jitter must be stable per (uri,user)")
}

func TestCursorRoundtrip(t *testing.T) {
	cand := &Candidate{
		Post:  &schema.Post{URI: "at://c", IndexedAt: 1700000000123},
		Score: 1234.5678,
	}

	key, err := decodeCursor(encodeCursor(cand))
	require.NoError(t, err)
	assert.InDelta(t, 1234.5678, key.score, 1e-4)
	assert.Equal(t, int64(1700000000123), key.tsMs)
	assert.Equal(t, "at://c", key.uri)

	_, err = decodeCursor("garbage")
	assert.Error(t, err)
}
