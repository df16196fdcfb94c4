// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingester

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/nebula-feeds/nebula-backend/internal/metrics"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
	"github.com/nebula-feeds/nebula-backend/pkg/schema"
)

// optionsUpdate is the post-connect control message carrying the
// author filter. URL length limits forbid inlining the DID list into
// the subscribe query.
type optionsUpdate struct {
	Type    string `json:"type"`
	Payload struct {
		WantedCollections   []string `json:"wantedCollections"`
		WantedDids          []string `json:"wantedDids"`
		MaxMessageSizeBytes int      `json:"maxMessageSizeBytes"`
	} `json:"payload"`
}

func (ing *Ingester) subscribeURL() (string, error) {
	u, err := url.Parse(ing.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for _, coll := range []string{schema.CollectionPost, schema.CollectionLike, schema.CollectionRepost} {
		q.Add("wantedCollections", coll)
	}
	q.Set("compress", "true")
	if cursor := ing.cursor.Load(); cursor > 0 {
		// Rewind a few seconds; duplicates are absorbed by the unique keys.
		q.Set("cursor", fmt.Sprintf("%d", cursor-5*time.Second.Microseconds()))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runConsumer owns the upstream socket: connect, subscribe, read until
// failure, flush what is pending, reconnect after the configured
// delay. The loop exits only on context cancellation.
func (ing *Ingester) runConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := ing.connectAndConsume(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("ingester: connection lost: %v", err)
		}
		metrics.FirehoseConnectionState.Set(0)

		// Flush in-flight batches before the socket comes back; the
		// cursor must reflect what is committed when we resubscribe.
		ing.flush()

		select {
		case <-ctx.Done():
			return
		case <-time.After(ing.reconnectDelay):
		}
	}
}

func (ing *Ingester) connectAndConsume(ctx context.Context) error {
	wsURL, err := ing.subscribeURL()
	if err != nil {
		return err
	}

	log.Infof("ingester: connecting to %s", wsURL)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	update := optionsUpdate{Type: "options_update"}
	update.Payload.WantedCollections = []string{schema.CollectionPost, schema.CollectionLike, schema.CollectionRepost}
	update.Payload.WantedDids = ing.wantedDids
	if err := conn.WriteJSON(&update); err != nil {
		return fmt.Errorf("send options_update: %w", err)
	}

	metrics.FirehoseConnectionState.Set(1)
	log.Info("ingester: connected")

	go func() {
		// Unblock the read loop when the context falls.
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if err := ing.processMessage(ctx, message); err != nil {
			metrics.FirehoseErrorsTotal.Inc()
			log.Warnf("ingester: bad message: %v", err)
		}
	}
}

// zstd magic number; Jetstream compresses with a shared dictionary-less frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

func (ing *Ingester) processMessage(ctx context.Context, data []byte) error {
	if len(data) >= 4 &&
		data[0] == zstdMagic[0] && data[1] == zstdMagic[1] &&
		data[2] == zstdMagic[2] && data[3] == zstdMagic[3] {
		decompressed, err := ing.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
		data = decompressed
	}

	var ev schema.JetstreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	return ing.handleEvent(ctx, &ev)
}

func newZstdDecoder() *zstd.Decoder {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		log.Fatalf("ingester: create zstd decoder: %v", err)
	}
	return decoder
}
