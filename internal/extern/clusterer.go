// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package extern

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ClusterInput is one liked-post vector with its weight.
type ClusterInput struct {
	Vector          []float64 `json:"vector"`
	Weight          float64   `json:"weight,omitempty"`
	InteractionType string    `json:"interactionType,omitempty"`
}

// ClusterOutput is one density cluster of the user's liked vectors.
// The centroid comes back L2-normalized; weight is the cluster's share
// of all clustered points.
type ClusterOutput struct {
	ClusterID string    `json:"clusterId"`
	Centroid  []float64 `json:"centroid"`
	Weight    float64   `json:"weight"`
	PostCount int       `json:"postCount"`
}

// Clusterer groups liked-post vectors into interest centroids. The
// density parameters are owned by the tool; only the output contract
// is fixed here.
type Clusterer interface {
	Cluster(ctx context.Context, inputs []*ClusterInput) ([]*ClusterOutput, error)
}

// CLIClusterer shells out to the clustering tool.
type CLIClusterer struct {
	Bin string
}

func (c *CLIClusterer) Cluster(ctx context.Context, inputs []*ClusterInput) ([]*ClusterOutput, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "nebula-cluster-")
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

	cmd := exec.CommandContext(ctx, c.Bin, inPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("clusterer failed: %w (%s)", err, out)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}

	var results []*ClusterOutput
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("clusterer output: %w", err)
	}
	return results, nil
}
