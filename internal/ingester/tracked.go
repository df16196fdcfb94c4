// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingester

import (
	"sync"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

const (
	trackedRefreshInterval = 15 * time.Minute
	twinReputationFloor    = 2.0
)

// TrackedSets holds the two DID whitelists the ingester consults per
// event: ownDids are the users the system serves feeds for,
// interactionDids additionally cover their Layer-1 follows and
// high-reputation taste-twins.
type TrackedSets struct {
	repo      *repository.Repository
	whitelist []string

	mu              sync.RWMutex
	ownDids         map[string]bool
	interactionDids map[string]bool
}

func NewTrackedSets(repo *repository.Repository, whitelist []string) *TrackedSets {
	t := &TrackedSets{
		repo:            repo,
		whitelist:       whitelist,
		ownDids:         make(map[string]bool),
		interactionDids: make(map[string]bool),
	}
	for _, did := range whitelist {
		t.ownDids[did] = true
		t.interactionDids[did] = true
	}
	return t
}

func (t *TrackedSets) IsOwn(did string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ownDids[did]
}

func (t *TrackedSets) IsInteraction(did string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interactionDids[did]
}

// Refresh rebuilds the interaction set: whitelist ∪ their L1 follows
// ∪ taste-twins above the reputation floor.
func (t *TrackedSets) Refresh() {
	interaction := make(map[string]bool, len(t.whitelist)*64)
	for _, did := range t.whitelist {
		interaction[did] = true

		l1, err := t.repo.L1Follows(did)
		if err != nil {
			log.Warnf("tracked: L1 of %s: %v", did, err)
			continue
		}
		for _, f := range l1 {
			interaction[f] = true
		}
	}

	twins, err := t.repo.HighReputationTwins(t.whitelist, twinReputationFloor)
	if err != nil {
		log.Warnf("tracked: taste twins: %v", err)
	}
	for _, did := range twins {
		interaction[did] = true
	}

	t.mu.Lock()
	t.interactionDids = interaction
	t.mu.Unlock()

	log.Debugf("tracked: %d own, %d interaction DIDs", len(t.whitelist), len(interaction))
}

// RunRefresh refreshes the sets now and then on the fixed interval
// until the stop channel closes.
func (t *TrackedSets) RunRefresh(stop <-chan struct{}) {
	t.Refresh()

	ticker := time.NewTicker(trackedRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Refresh()
		}
	}
}
