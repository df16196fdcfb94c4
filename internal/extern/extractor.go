// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package extern

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Keyword is one extracted (keyword, score) pair. Keywords arrive
// lowercased and trimmed.
type Keyword struct {
	Word  string
	Score float64
}

// KeywordExtractor compares a liked corpus against a background corpus
// and emits distinguishing keywords.
type KeywordExtractor interface {
	Extract(ctx context.Context, likedCorpus, backgroundCorpus []string) ([]Keyword, error)
}

// CLIExtractor shells out to the extraction tool, which writes
// keyword\tscore lines to stdout.
type CLIExtractor struct {
	Bin string
}

func (e *CLIExtractor) Extract(ctx context.Context, likedCorpus, backgroundCorpus []string) ([]Keyword, error) {
	if len(likedCorpus) == 0 {
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "nebula-extract-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	likedPath := filepath.Join(dir, "liked.txt")
	backgroundPath := filepath.Join(dir, "background.txt")

	if err := os.WriteFile(likedPath, []byte(strings.Join(likedCorpus, "\n")), 0o600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(backgroundPath, []byte(strings.Join(backgroundCorpus, "\n")), 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Bin, likedPath, backgroundPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extractor failed: %w (%s)", err, stderr.String())
	}

	var out []Keyword
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Text()
		word, scoreStr, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(scoreStr), 64)
		if err != nil {
			continue
		}
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			out = append(out, Keyword{Word: word, Score: score})
		}
	}
	return out, scanner.Err()
}
