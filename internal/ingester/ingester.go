// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingester consumes the Jetstream firehose and folds events
// into batched store writes. One consumer task reads the socket, one
// timer task flushes; both share the pending batch under a mutex.
package ingester

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nebula-feeds/nebula-backend/internal/metrics"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/internal/taste"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

type Ingester struct {
	repo    *repository.Repository
	taste   *taste.Engine
	tracked *TrackedSets

	service        string
	endpoint       string
	reconnectDelay time.Duration
	wantedDids     []string

	decoder *zstd.Decoder
	cursor  atomic.Int64

	// Events at or below the cursor loaded on startup were already
	// committed; replaying them would double-count the counters.
	resumeFloor int64

	mu        sync.Mutex
	batch     *repository.IngestBatch
	maxTimeUs int64

	wg sync.WaitGroup
}

type Options struct {
	Service        string
	Endpoint       string
	ReconnectDelay time.Duration
	// Optional author filter pushed via options_update. Empty means
	// the full firehose.
	WantedDids []string
}

func New(repo *repository.Repository, tasteEngine *taste.Engine, tracked *TrackedSets, opts Options) *Ingester {
	ing := &Ingester{
		repo:           repo,
		taste:          tasteEngine,
		tracked:        tracked,
		service:        opts.Service,
		endpoint:       opts.Endpoint,
		reconnectDelay: opts.ReconnectDelay,
		wantedDids:     opts.WantedDids,
		decoder:        newZstdDecoder(),
		batch:          newBatch(),
	}

	cursor, err := repo.Cursor(opts.Service)
	if err != nil {
		log.Warnf("ingester: load cursor: %v", err)
	} else if cursor > 0 {
		ing.cursor.Store(cursor)
		ing.resumeFloor = cursor
		log.Infof("ingester: resuming from cursor %d", cursor)
	}

	return ing
}

// Start launches the consumer and flusher tasks. Cancel the context to
// stop; Wait returns after the final flush.
func (ing *Ingester) Start(ctx context.Context) {
	ing.wg.Add(2)
	go func() {
		defer ing.wg.Done()
		ing.runConsumer(ctx)
	}()
	go func() {
		defer ing.wg.Done()
		ing.runFlusher(ctx)
	}()
}

func (ing *Ingester) Wait() {
	ing.wg.Wait()
	ing.decoder.Close()
}

// handleEvent parses and applies a single upstream event.
func (ing *Ingester) handleEvent(ctx context.Context, ev *schema.JetstreamEvent) error {
	if ev.TimeUs > 0 && ev.TimeUs <= ing.resumeFloor {
		return nil
	}

	op, err := schema.ParseOp(ev)
	if err != nil {
		return err
	}
	if op == nil {
		return nil
	}

	if ev.Commit != nil {
		metrics.FirehoseEventsTotal.WithLabelValues(ev.Commit.Collection, ev.Commit.Operation).Inc()
	}

	ing.mu.Lock()
	ing.apply(op)
	if ev.TimeUs > ing.maxTimeUs {
		ing.maxTimeUs = ev.TimeUs
	}
	ing.mu.Unlock()
	ing.cursor.Store(ev.TimeUs)

	// Taste side-effects run synchronously but outside the batch lock;
	// they only fire for the small whitelist.
	switch v := op.(type) {
	case schema.CreateLike:
		ing.tasteSideEffects(ctx, v.Actor, v.SubjectURI, schema.InteractionLike)
	case schema.CreateRepost:
		ing.tasteSideEffects(ctx, v.Actor, v.SubjectURI, schema.InteractionRepost)
	}

	return nil
}
