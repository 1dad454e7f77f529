package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/dtos"
	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"go.uber.org/zap"
)

const (
	scorerPredictPath = "/api/v1/score"
	scorerHealthPath  = "/health"

	scorerMaxRetries       = 3
	scorerRetryBackoffBase = 50 * time.Millisecond
	scorerRetryBackoffMax  = 1 * time.Second

	throttlePollBase = 5 * time.Millisecond
	throttlePollMax  = 50 * time.Millisecond
)

// RemoteClassifierConfig wires the HTTP scorer sidecar.
type RemoteClassifierConfig struct {
	Logger          *zap.Logger
	Addr            string // e.g. http://fraud-scorer:9000
	Client          *http.Client
	Limiter         *pkg.DistributedLimiter
	MaxThrottleWait time.Duration
}

// RemoteClassifier scores feature vectors against an HTTP model server. It
// satisfies ClassifierHandle, so the statistical strategy cannot tell a
// sidecar from an in-process model. Calls are rate limited across replicas
// and retried with jittered backoff.
type RemoteClassifier struct {
	logger          *zap.Logger
	addr            string
	client          *http.Client
	limiter         *pkg.DistributedLimiter
	maxThrottleWait time.Duration
}

func NewRemoteClassifier(cnf RemoteClassifierConfig) *RemoteClassifier {
	client := cnf.Client
	if client == nil {
		client = utils.NewHTTPClient()
	}
	return &RemoteClassifier{
		logger:          cnf.Logger,
		addr:            cnf.Addr,
		client:          client,
		limiter:         cnf.Limiter,
		maxThrottleWait: cnf.MaxThrottleWait,
	}
}

// DecisionFunction returns the margin with the local classifier's
// convention: positive for inliers, negative for outliers.
func (r *RemoteClassifier) DecisionFunction(ctx context.Context, features []float64) (float64, error) {
	out, err := r.score(ctx, features)
	if err != nil {
		return 0, err
	}
	return out.Threshold - out.Score, nil
}

func (r *RemoteClassifier) Predict(ctx context.Context, features []float64) (int, error) {
	out, err := r.score(ctx, features)
	if err != nil {
		return 0, err
	}
	if out.IsOutlier {
		return OutlierLabel, nil
	}
	return 1, nil
}

func (r *RemoteClassifier) score(ctx context.Context, features []float64) (dtos.PredictResponse, error) {
	if len(features) != featureCount {
		return dtos.PredictResponse{}, fmt.Errorf("feature dimension mismatch: got %d, want %d", len(features), featureCount)
	}
	if err := r.waitForSlot(ctx); err != nil {
		return dtos.PredictResponse{}, err
	}

	payload, err := json.Marshal(dtos.PredictRequest{
		Amount:          features[0],
		Hour:            int(features[1]),
		IsInternational: int(features[2]),
		MerchantBucket:  int(features[3]),
	})
	if err != nil {
		return dtos.PredictResponse{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= scorerMaxRetries; attempt++ {
		out, postErr := r.post(ctx, payload)
		if postErr == nil {
			return out, nil
		}
		lastErr = postErr
		r.logger.Warn("scorer call failed",
			zap.Int("attempt", attempt),
			zap.Error(postErr),
		)
		select {
		case <-ctx.Done():
			return dtos.PredictResponse{}, ctx.Err()
		case <-time.After(utils.CalculateExponentialBackoffWithJitter(attempt, scorerRetryBackoffBase, scorerRetryBackoffMax)):
		}
	}
	return dtos.PredictResponse{}, lastErr
}

// waitForSlot polls the shared limiter, failing fast once MaxThrottleWait
// elapses so a saturated scorer sheds load instead of queueing it.
func (r *RemoteClassifier) waitForSlot(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	deadline := time.Now().Add(r.maxThrottleWait)
	for attempt := 1; ; attempt++ {
		if r.limiter.Allow(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return pkg.NewAppError(pkg.ErrThrottledCode, "scorer request throttled", pkg.ErrRateLimitExceeded)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.CalculateExponentialBackoffWithJitter(attempt, throttlePollBase, throttlePollMax)):
		}
	}
}

func (r *RemoteClassifier) post(ctx context.Context, payload []byte) (dtos.PredictResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.addr+scorerPredictPath, bytes.NewReader(payload))
	if err != nil {
		return dtos.PredictResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return dtos.PredictResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dtos.PredictResponse{}, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, string(body))
	}
	var out dtos.PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return dtos.PredictResponse{}, fmt.Errorf("decode scorer response: %w", err)
	}
	return out, nil
}

// RemoteModelStore treats a scorer service address as the artifact location.
// Load probes the scorer's health endpoint, so an unreachable sidecar
// surfaces as model-unavailable at handle-build time rather than on the
// first prediction.
type RemoteModelStore struct {
	logger          *zap.Logger
	client          *http.Client
	limiter         *pkg.DistributedLimiter
	maxThrottleWait time.Duration
}

func NewRemoteModelStore(logger *zap.Logger, client *http.Client, limiter *pkg.DistributedLimiter, maxThrottleWait time.Duration) ModelStore {
	if client == nil {
		client = utils.NewHTTPClient()
	}
	return &RemoteModelStore{
		logger:          logger,
		client:          client,
		limiter:         limiter,
		maxThrottleWait: maxThrottleWait,
	}
}

func (s *RemoteModelStore) Load(ctx context.Context, addr string) (ClassifierHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+scorerHealthPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer health returned %d", resp.StatusCode)
	}

	s.logger.Info("scorer sidecar healthy", zap.String("addr", addr))
	return NewRemoteClassifier(RemoteClassifierConfig{
		Logger:          s.logger,
		Addr:            addr,
		Client:          s.client,
		Limiter:         s.limiter,
		MaxThrottleWait: s.maxThrottleWait,
	}), nil
}
