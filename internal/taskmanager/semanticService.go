// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nebula-feeds/nebula-backend/internal/semantic"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// RegisterSemanticBatchService fires the candidate-batch pipeline on
// its regular interval. Serve-time consumption fires additional
// priority triggers directly on the scheduler.
func RegisterSemanticBatchService(scheduler *semantic.Scheduler) {
	log.Info("Register semantic batch service")

	s.NewJob(gocron.DurationJob(90*time.Minute),
		gocron.NewTask(func() {
			scheduler.Trigger("", false)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
}
