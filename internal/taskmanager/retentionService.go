// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

const (
	postRetention   = 7 * 24 * time.Hour
	servedRetention = 6 * time.Hour
	seenRetention   = 8 * time.Hour
	batchRetention  = 12 * time.Hour
)

// RegisterRetentionService trims the hot tables: the hourly sweep
// drops expired served/seen/batch rows, the daily one hard-deletes
// unengaged posts outside every tracked follow graph.
func RegisterRetentionService() {
	log.Info("Register retention service")

	s.NewJob(gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			now := time.Now()
			if n, err := repo.GCServed(now.Add(-servedRetention).UnixMilli()); err != nil {
				log.Errorf("retention: served log: %s", err.Error())
			} else if n > 0 {
				log.Debugf("retention: removed %d served rows", n)
			}
			if n, err := repo.GCSeen(now.Add(-seenRetention).UnixMilli()); err != nil {
				log.Errorf("retention: seen log: %s", err.Error())
			} else if n > 0 {
				log.Debugf("retention: removed %d seen rows", n)
			}
			if n, err := repo.GCCandidateBatches(now.Add(-batchRetention).UnixMilli()); err != nil {
				log.Errorf("retention: candidate batches: %s", err.Error())
			} else if n > 0 {
				log.Debugf("retention: removed %d batch rows", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))

	s.NewJob(gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(04, 0, 0))),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-postRetention).UnixMilli()
			if n, err := repo.DeleteStalePosts(cutoff); err != nil {
				log.Errorf("retention: stale posts: %s", err.Error())
			} else {
				log.Infof("retention: removed %d stale posts", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
}
