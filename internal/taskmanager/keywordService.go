// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"context"

	"github.com/go-co-op/gocron/v2"

	"github.com/nebula-feeds/nebula-backend/internal/keywords"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// RegisterKeywordService rebuilds every active user's keyword profile
// once a day, off-peak.
func RegisterKeywordService(ctx context.Context, engine *keywords.Engine, whitelist []string) {
	log.Info("Register keyword extraction service")

	s.NewJob(gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(03, 30, 0))),
		gocron.NewTask(func() {
			for _, userDid := range whitelist {
				if err := engine.RebuildFor(ctx, userDid); err != nil {
					log.Warnf("keyword rebuild for %s: %s", userDid, err.Error())
				}
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
}
