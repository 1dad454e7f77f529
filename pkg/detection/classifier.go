package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// OutlierLabel is the classifier label meaning "anomalous".
const OutlierLabel = -1

// ClassifierHandle is a read-only handle to a pre-trained binary outlier
// classifier. DecisionFunction returns the signed margin from the separating
// boundary; Predict returns +1 for inliers and OutlierLabel for outliers.
type ClassifierHandle interface {
	DecisionFunction(ctx context.Context, features []float64) (float64, error)
	Predict(ctx context.Context, features []float64) (int, error)
}

// ModelStore loads a classifier handle from an artifact location. A load
// failure must stay distinguishable from a classifier that scores a sample
// as not anomalous.
type ModelStore interface {
	Load(ctx context.Context, location string) (ClassifierHandle, error)
}

// modelArtifact is the on-disk JSON layout exported by the training pipeline.
type modelArtifact struct {
	Version    int       `json:"version"`
	FeatureDim int       `json:"featureDim"`
	Weights    []float64 `json:"weights"`
	Bias       float64   `json:"bias"`
}

// LinearClassifier scores with a linear decision function: margin = w.x + b.
type LinearClassifier struct {
	weights []float64
	bias    float64
}

func NewLinearClassifier(weights []float64, bias float64) *LinearClassifier {
	return &LinearClassifier{weights: weights, bias: bias}
}

func (c *LinearClassifier) DecisionFunction(_ context.Context, features []float64) (float64, error) {
	if len(features) != len(c.weights) {
		return 0, fmt.Errorf("feature dimension mismatch: got %d, want %d", len(features), len(c.weights))
	}
	margin := c.bias
	for i, w := range c.weights {
		margin += w * features[i]
	}
	return margin, nil
}

// Predict maps the margin sign to a label; negative margins are outliers.
func (c *LinearClassifier) Predict(ctx context.Context, features []float64) (int, error) {
	margin, err := c.DecisionFunction(ctx, features)
	if err != nil {
		return 0, err
	}
	if margin < 0 {
		return OutlierLabel, nil
	}
	return 1, nil
}

// FileModelStore reads linear classifier artifacts from local disk.
type FileModelStore struct{}

func NewFileModelStore() ModelStore {
	return &FileModelStore{}
}

func (s *FileModelStore) Load(_ context.Context, path string) (ClassifierHandle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var artifact modelArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("decode model artifact %s: %w", filepath.Base(path), err)
	}
	if len(artifact.Weights) == 0 {
		return nil, fmt.Errorf("model artifact %s has no weights", filepath.Base(path))
	}
	if artifact.FeatureDim > 0 && len(artifact.Weights) != artifact.FeatureDim {
		return nil, fmt.Errorf("model artifact %s: %d weights for feature dim %d",
			filepath.Base(path), len(artifact.Weights), artifact.FeatureDim)
	}
	return NewLinearClassifier(artifact.Weights, artifact.Bias), nil
}
