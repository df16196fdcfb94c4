// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"context"

	"github.com/go-co-op/gocron/v2"

	"github.com/nebula-feeds/nebula-backend/internal/graphsvc"
	"github.com/nebula-feeds/nebula-backend/internal/keywords"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/internal/semantic"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

var (
	s    gocron.Scheduler
	repo *repository.Repository
)

// Deps are the services the background jobs drive.
type Deps struct {
	Repo      *repository.Repository
	Graph     *graphsvc.Service
	Keywords  *keywords.Engine
	Semantic  *semantic.Scheduler
	Whitelist []string
}

// Start registers and launches all periodic jobs. Every job runs in
// singleton mode: a still-running instance suppresses the next firing.
func Start(ctx context.Context, deps Deps) {
	var err error
	repo = deps.Repo
	s, err = gocron.NewScheduler()
	if err != nil {
		log.Fatalf("taskmanager: could not create gocron scheduler: %s", err.Error())
	}

	RegisterGraphRefreshService(ctx, deps.Graph, deps.Whitelist)
	RegisterKeywordService(ctx, deps.Keywords, deps.Whitelist)
	RegisterSemanticBatchService(deps.Semantic)
	RegisterRetentionService()

	s.Start()
}

func Shutdown() {
	if s != nil {
		if err := s.Shutdown(); err != nil {
			log.Warnf("taskmanager: shutdown: %v", err)
		}
	}
}
