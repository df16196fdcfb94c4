// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taste maintains the taste-twin reputation graph and the
// per-author fatigue/affinity state of every tracked user.
package taste

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const externalLikerCap = 100

// Likers resolves the external likers of a post (the graph service).
type Likers interface {
	PostLikers(ctx context.Context, postURI string, limit int) []string
}

type Engine struct {
	repo   *repository.Repository
	likers Likers

	// Two concurrent likes may race on the same (user, twin) pair;
	// reputation updates are serialized through a sharded mutex map
	// instead of read-modify-write against the store.
	shards [64]sync.Mutex

	restrictedKeywords map[string]bool
}

func New(repo *repository.Repository, likers Likers, restricted []string) *Engine {
	set := make(map[string]bool, len(restricted))
	for _, kw := range restricted {
		set[kw] = true
	}
	return &Engine{repo: repo, likers: likers, restrictedKeywords: set}
}

func (e *Engine) lock(userDid, similarDid string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userDid))
	h.Write([]byte{0})
	h.Write([]byte(similarDid))
	return &e.shards[h.Sum32()%uint32(len(e.shards))]
}

// OnLike processes a like by a tracked user: co-likers already in the
// store become agreement edges, and the post's external likers seed
// taste-twin discovery outside the follow graph.
func (e *Engine) OnLike(ctx context.Context, userDid string, post *schema.Post) {
	now := time.Now().UnixMilli()

	coLikers, err := e.repo.CoLikers(post.URI, userDid)
	if err != nil {
		log.Warnf("taste: co-likers of %s: %v", post.URI, err)
	}
	for _, other := range coLikers {
		if err := e.repo.BumpTasteSimilarity(userDid, other, now); err != nil {
			log.Warnf("taste: similarity upsert (%s,%s): %v", userDid, other, err)
			continue
		}
		e.UpdateReputation(userDid, other, ActionAgreement)
	}

	for _, external := range e.likers.PostLikers(ctx, post.URI, externalLikerCap) {
		if external == userDid {
			continue
		}
		e.UpdateReputation(userDid, external, ActionAgreement)
	}
}

// OnSeen cools the author affinity slightly when the client reports a
// post as visible without any interaction following.
func (e *Engine) OnSeen(userDid, authorDid string) {
	if authorDid == "" {
		return
	}

	mu := e.lock(userDid, authorDid)
	mu.Lock()
	defer mu.Unlock()

	row := e.loadFatigue(userDid, authorDid)
	row.AffinityScore = clamp(row.AffinityScore-0.02, affinityMin, affinityMax)
	row.UpdatedAt = time.Now().UnixMilli()
	if err := e.repo.PutAuthorFatigue(row); err != nil {
		log.Warnf("taste: fatigue update (%s,%s): %v", userDid, authorDid, err)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
