// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ranking

import (
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// networkEffort aggregates, per candidate URI, what the user's close
// network (L1 plus influential L2) did with it.
type networkEffort struct {
	likes    int64
	reposts  int64
	actors   map[string]bool
	// repostURI is the first repost record from an L1 follower; it
	// feeds the skeleton repost reason.
	repostURI string
}

func (c *Core) networkEffort(rc *rankContext, uris []string) map[string]*networkEffort {
	actors := keys(rc.l1)
	actors = append(actors, keys(rc.influL2)...)

	edges, err := c.repo.NetworkInteractions(uris, actors)
	if err != nil {
		log.Warnf("ranking: network interactions: %v", err)
		return nil
	}

	out := make(map[string]*networkEffort)
	for _, e := range edges {
		eff, ok := out[e.Target]
		if !ok {
			eff = &networkEffort{actors: make(map[string]bool)}
			out[e.Target] = eff
		}

		eff.actors[e.Actor] = true
		switch e.Type {
		case schema.InteractionLike:
			eff.likes++
		case schema.InteractionRepost:
			eff.reposts++
			if eff.repostURI == "" && rc.l1[e.Actor] {
				eff.repostURI = e.InteractionURI
			}
		}
	}
	return out
}
