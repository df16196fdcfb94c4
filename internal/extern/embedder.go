// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package extern wraps the CLI tools backing the semantic and keyword
// pipelines. Each tool is exchanged through temp-file JSON so oversized
// corpora never hit argv limits.
package extern

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// EmbedInput is one text (optionally with images) to embed.
type EmbedInput struct {
	URI       string   `json:"uri"`
	Text      string   `json:"text"`
	ImageURLs []string `json:"image_urls"`
	AltText   []string `json:"alt_text"`
}

// EmbedOutput carries the 512-dim vector for one input.
type EmbedOutput struct {
	URI    string    `json:"uri"`
	Vector []float64 `json:"vector"`
}

// Embedder turns post content into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []*EmbedInput) ([]*EmbedOutput, error)
}

// CLIEmbedder shells out to the embedding tool.
type CLIEmbedder struct {
	Bin       string
	ModelPath string
	BatchSize int
}

func (e *CLIEmbedder) Embed(ctx context.Context, inputs []*EmbedInput) ([]*EmbedOutput, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "nebula-embed-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.json")
	outPath := filepath.Join(dir, "output.json")

	data, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, err
	}

	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	cmd := exec.CommandContext(ctx, e.Bin, inPath, outPath,
		"--model-path", e.ModelPath,
		"--batch-size", fmt.Sprint(batchSize))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("embedder failed: %w (%s)", err, out)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}

	var results []*EmbedOutput
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("embedder output: %w", err)
	}
	return results, nil
}
