// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"time"

	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

// Hooks satisfies the sqlhook.Hooks interface
type Hooks struct{}

type hookCtxKey struct{}

// Before hook will print the query with its args and return the context with the timestamp
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, hookCtxKey{}, time.Now()), nil
}

// After hook will get the timestamp registered on the Before hook and print the elapsed time
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(hookCtxKey{}).(time.Time); ok {
		log.Debugf("Took: %s", time.Since(begin))
	}
	return ctx, nil
}
