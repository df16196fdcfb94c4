// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"time"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

const (
	interactedWindow = 14 * 24 * time.Hour
	seenWindow       = 8 * time.Hour
	twinLimit        = 200
	twinMinRep       = 1.0
)

// twinLikes records which taste-twins liked a URI and the strongest
// reputation among them.
type twinLikes struct {
	count  int
	maxRep float64
}

// rankContext is everything about the requesting user the scoring pass
// needs, loaded once per rank call.
type rankContext struct {
	userDid string
	nowMs   int64

	l1         map[string]bool
	l2         map[string]bool
	mutuals    map[string]bool
	interacted map[string]bool
	influL2    map[string]bool

	twins     map[string]float64  // twin did -> reputation
	twinLiked map[string]twinLikes // uri -> consensus

	keywords []*schema.UserKeyword
	fatigue  map[string]*schema.AuthorFatigue
	seen     map[string]int64

	likedURIs    map[string]bool
	repostedURIs map[string]bool
	repliedURIs  map[string]bool

	mediaRatio float64
}

// inSocialGraph reports whether the author is reachable from the user:
// self, L1, L2 or recently interacted.
func (rc *rankContext) inSocialGraph(author string) bool {
	return author == rc.userDid || rc.l1[author] || rc.l2[author] || rc.interacted[author]
}

func (rc *rankContext) relationOf(author string) relation {
	switch {
	case author == rc.userDid:
		return relationSelf
	case rc.l1[author]:
		return relationL1
	case rc.interacted[author]:
		return relationInteracted
	case rc.l2[author]:
		return relationL2
	default:
		return relationUnknown
	}
}

func (rc *rankContext) affinityOf(author string) float64 {
	if row, ok := rc.fatigue[author]; ok {
		return row.AffinityScore
	}
	return 1.0
}

func toSet(dids []string) map[string]bool {
	set := make(map[string]bool, len(dids))
	for _, did := range dids {
		set[did] = true
	}
	return set
}

func (c *Core) loadContext(userDid string) (*rankContext, error) {
	now := time.Now()
	rc := &rankContext{
		userDid:      userDid,
		nowMs:        now.UnixMilli(),
		twinLiked:    make(map[string]twinLikes),
		likedURIs:    make(map[string]bool),
		repostedURIs: make(map[string]bool),
		repliedURIs:  make(map[string]bool),
	}

	l1, err := c.repo.L1Follows(userDid)
	if err != nil {
		return nil, err
	}
	rc.l1 = toSet(l1)

	l2, err := c.repo.L2Follows(userDid)
	if err != nil {
		return nil, err
	}
	rc.l2 = toSet(l2)

	mutuals, err := c.graph.Mutuals(userDid)
	if err != nil {
		return nil, err
	}
	rc.mutuals = mutuals

	interacted, err := c.repo.InteractedAuthors(userDid, now.Add(-interactedWindow).UnixMilli())
	if err != nil {
		return nil, err
	}
	rc.interacted = toSet(interacted)

	influ, err := c.graph.InfluentialL2Set(userDid)
	if err != nil {
		return nil, err
	}
	rc.influL2 = influ

	rc.twins, err = c.repo.TasteTwins(userDid, twinMinRep, twinLimit)
	if err != nil {
		return nil, err
	}

	rc.keywords, err = c.repo.KeywordsFor(userDid)
	if err != nil {
		return nil, err
	}

	rc.fatigue, err = c.repo.AuthorFatigueFor(userDid)
	if err != nil {
		return nil, err
	}

	rc.seen, err = c.repo.SeenCounts(userDid, now.Add(-seenWindow).UnixMilli())
	if err != nil {
		return nil, err
	}

	edges, err := c.repo.InteractionsByActor(userDid, 0)
	if err != nil {
		return nil, err
	}
	mediaSeen, mediaTotal := 0, 0
	for _, e := range edges {
		switch e.Type {
		case schema.InteractionLike:
			rc.likedURIs[e.Target] = true
		case schema.InteractionRepost:
			rc.repostedURIs[e.Target] = true
		case schema.InteractionReply:
			rc.repliedURIs[e.Target] = true
		}
	}

	// Media appetite: share of recently engaged posts carrying
	// image or video.
	if liked, err := c.repo.FindPosts(keys(rc.likedURIs)); err != nil {
		log.Warnf("ranking: media ratio for %s: %v", userDid, err)
	} else {
		for _, p := range liked {
			mediaTotal++
			if p.HasImage || p.HasVideo {
				mediaSeen++
			}
		}
	}
	if mediaTotal > 0 {
		rc.mediaRatio = float64(mediaSeen) / float64(mediaTotal)
	}

	return rc, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
