// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package semantic

import (
	"context"
	"sync"
	"time"

	"github.com/nebula-feeds/nebula-backend/internal/metrics"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

const runCooldown = 10 * time.Minute

// Scheduler serializes pipeline runs: single-concurrency per process,
// cooldown-guarded unless a trigger is prioritized. Serve-time
// consumption fires priority triggers; the periodic task fires plain
// ones.
type Scheduler struct {
	pipeline *Pipeline
	users    func() []string

	triggers chan trigger

	mu        sync.Mutex
	running   bool
	lastRunAt time.Time
}

type trigger struct {
	userDid  string
	priority bool
}

// NewScheduler wires the pipeline behind a trigger queue. users
// resolves the whitelist at run time.
func NewScheduler(pipeline *Pipeline, users func() []string) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		users:    users,
		triggers: make(chan trigger, 64),
	}
}

// Trigger enqueues a run. An empty userDid means every tracked user.
// Non-priority triggers inside the cooldown window are dropped.
func (s *Scheduler) Trigger(userDid string, priority bool) {
	s.mu.Lock()
	tooSoon := !priority && time.Since(s.lastRunAt) < runCooldown
	s.mu.Unlock()
	if tooSoon {
		log.Debugf("semantic: trigger for %q inside cooldown, dropped", userDid)
		return
	}

	select {
	case s.triggers <- trigger{userDid: userDid, priority: priority}:
	default:
		log.Warn("semantic: trigger queue full, dropping")
	}
}

// Run drains the trigger queue until the context falls. At most one
// pipeline run is in flight at any time.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.triggers:
			s.runOne(ctx, t)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, t trigger) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if !t.priority && time.Since(s.lastRunAt) < runCooldown {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRunAt = time.Now()
		s.mu.Unlock()
	}()

	metrics.PipelineRunning.Set(1)
	defer metrics.PipelineRunning.Set(0)

	users := s.users()
	if t.userDid != "" {
		users = []string{t.userDid}
	}

	for _, userDid := range users {
		if ctx.Err() != nil {
			return
		}
		if err := s.pipeline.RunForUser(ctx, userDid); err != nil {
			metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
			log.Errorf("semantic: pipeline for %s: %v", userDid, err)
			continue
		}
		metrics.PipelineRunsTotal.WithLabelValues("ok").Inc()
	}
}
