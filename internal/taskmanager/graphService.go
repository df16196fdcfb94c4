// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nebula-feeds/nebula-backend/internal/graphsvc"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// RegisterGraphRefreshService rebuilds follow graphs and the
// influential-L2 caches. The per-user 24 h guard lives in the graph
// service itself, so an hourly sweep stays cheap.
func RegisterGraphRefreshService(ctx context.Context, graph *graphsvc.Service, whitelist []string) {
	log.Info("Register graph refresh service")

	s.NewJob(gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			for _, userDid := range whitelist {
				if err := graph.BuildUserGraph(ctx, userDid); err != nil {
					log.Warnf("graph refresh for %s: %s", userDid, err.Error())
				}
				if err := graph.RefreshInfluentialL2(ctx, userDid); err != nil {
					log.Warnf("influence refresh for %s: %s", userDid, err.Error())
				}
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
}
