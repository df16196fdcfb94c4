// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package graphsvc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/nebula-feeds/nebula-backend/internal/appview"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	graphRebuildInterval = 24 * time.Hour
	influenceTTL         = 72 * time.Hour
	l2FollowPageSize     = 100
	influentialKeep      = 100
)

// Service builds and caches the follow graph of every tracked user.
type Service struct {
	repo    *repository.Repository
	appview *appview.Client

	// Layer-2 expansion hits the AppView once per L1 account; pace it.
	limiter *rate.Limiter

	wantedCache *lru.LRU[string, map[string]bool]
	mutualCache *lru.LRU[string, map[string]bool]
}

func New(repo *repository.Repository, av *appview.Client) *Service {
	return &Service{
		repo:        repo,
		appview:     av,
		limiter:     rate.NewLimiter(rate.Every(150*time.Millisecond), 1),
		wantedCache: lru.NewLRU[string, map[string]bool](256, nil, 15*time.Minute),
		mutualCache: lru.NewLRU[string, map[string]bool](256, nil, 15*time.Minute),
	}
}

// BuildUserGraph fetches Layer-1 and Layer-2 follows for the user and
// persists them. Idempotent: at most one rebuild per 24 h, keyed by a
// meta-table stamp.
func (s *Service) BuildUserGraph(ctx context.Context, userDid string) error {
	stampKey := "graph_last_update_" + userDid
	if stamp, err := s.repo.GetMeta(stampKey); err == nil {
		if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			if time.Since(time.UnixMilli(ms)) < graphRebuildInterval {
				return nil
			}
		}
	}

	l1, err := s.appview.GetFollows(ctx, userDid, 0)
	if err != nil {
		return fmt.Errorf("fetch L1 follows of %s: %w", userDid, err)
	}

	now := time.Now().UnixMilli()
	edges := make([]*schema.FollowEdge, 0, len(l1))
	for _, did := range l1 {
		edges = append(edges, &schema.FollowEdge{Follower: userDid, Followee: did, IndexedAt: now})
	}
	if err := s.repo.InsertFollows(edges); err != nil {
		return fmt.Errorf("store L1 follows: %w", err)
	}

	for _, l1Did := range l1 {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		l2, err := s.appview.GetFollows(ctx, l1Did, l2FollowPageSize)
		if err != nil {
			// A protected or deleted account is not worth failing the build.
			log.Warnf("fetch L2 follows of %s: %v", l1Did, err)
			continue
		}

		l2Edges := make([]*schema.FollowEdge, 0, len(l2))
		for _, did := range l2 {
			l2Edges = append(l2Edges, &schema.FollowEdge{Follower: l1Did, Followee: did, IndexedAt: now})
		}
		if err := s.repo.InsertFollows(l2Edges); err != nil {
			log.Warnf("store L2 follows of %s: %v", l1Did, err)
		}
	}

	s.wantedCache.Remove(userDid)
	return s.repo.SetMeta(stampKey, strconv.FormatInt(now, 10))
}

// WantedDids returns self ∪ L1 ∪ L2 as a set. A user with no follows
// gets {self}.
func (s *Service) WantedDids(userDid string) (map[string]bool, error) {
	if cached, ok := s.wantedCache.Get(userDid); ok {
		return cached, nil
	}

	l1, err := s.repo.L1Follows(userDid)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{userDid: true}
	if len(l1) > 0 {
		for _, did := range l1 {
			wanted[did] = true
		}
		l2, err := s.repo.L2Follows(userDid)
		if err != nil {
			return nil, err
		}
		for _, did := range l2 {
			wanted[did] = true
		}
	}

	s.wantedCache.Add(userDid, wanted)
	return wanted, nil
}

// Mutuals returns the user's mutual follows as a set.
func (s *Service) Mutuals(userDid string) (map[string]bool, error) {
	if cached, ok := s.mutualCache.Get(userDid); ok {
		return cached, nil
	}

	dids, err := s.repo.Mutuals(userDid)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(dids))
	for _, did := range dids {
		set[did] = true
	}
	s.mutualCache.Add(userDid, set)
	return set, nil
}

// PostLikers returns actor DIDs that liked the post. Failures are
// tolerated and yield an empty list.
func (s *Service) PostLikers(ctx context.Context, postURI string, limit int) []string {
	return s.appview.GetLikers(ctx, postURI, limit)
}

// RefreshInfluentialL2 recomputes the user's influential Layer-2
// cache: accounts reachable through many L1s relative to their total
// audience. Refreshed at most once per TTL.
func (s *Service) RefreshInfluentialL2(ctx context.Context, userDid string) error {
	stampKey := "influence_last_update_" + userDid
	if stamp, err := s.repo.GetMeta(stampKey); err == nil {
		if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			if time.Since(time.UnixMilli(ms)) < influenceTTL {
				return nil
			}
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	l1, err := s.repo.L1Follows(userDid)
	if err != nil {
		return err
	}
	if len(l1) == 0 {
		return nil
	}

	l1Set := make(map[string]bool, len(l1))
	for _, did := range l1 {
		l1Set[did] = true
	}

	counts, err := s.repo.L2FollowCounts(l1)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	rows := make([]*schema.InfluentialL2, 0, len(counts))
	for did, l1Count := range counts {
		if did == userDid || l1Set[did] || l1Count < 2 {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		total, err := s.appview.FollowerCount(ctx, did)
		if err != nil || total <= 0 {
			continue
		}

		influence := (float64(l1Count) / math.Sqrt(float64(total))) * float64(l1Count)
		rows = append(rows, &schema.InfluentialL2{
			UserDid:         userDid,
			L2Did:           did,
			InfluenceScore:  influence,
			L1FollowerCount: l1Count,
			UpdatedAt:       now,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].InfluenceScore > rows[j].InfluenceScore })
	if len(rows) > influentialKeep {
		rows = rows[:influentialKeep]
	}

	if err := s.repo.ReplaceInfluentialL2(userDid, rows); err != nil {
		return err
	}
	return s.repo.SetMeta(stampKey, strconv.FormatInt(now, 10))
}

// InfluentialL2Set returns the cached influential-L2 DIDs.
func (s *Service) InfluentialL2Set(userDid string) (map[string]bool, error) {
	rows, err := s.repo.InfluentialL2(userDid)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[row.L2Did] = true
	}
	return set, nil
}
