package detection

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"go.uber.org/zap"
)

// ReasonModelOutlier is the single reason attached to statistical verdicts.
const ReasonModelOutlier = "ML model flagged as outlier"

const (
	// featureCount fixes the model input order: amount, hour of day,
	// international flag as 0/1, merchant bucket.
	featureCount = 4

	// merchantHashBuckets bounds the merchant feature to a small categorical
	// range. The bucket is a coarse demo-grade proxy for the merchant, not a
	// production encoding; xxhash keeps it reproducible across processes.
	merchantHashBuckets = 1000
)

// StatisticalDetector wraps a pre-trained binary outlier classifier. The
// handle loads lazily with a double-checked guard: one successful load per
// process, while failed loads are retried on the next invocation so the
// strategy recovers as soon as the artifact appears.
type StatisticalDetector struct {
	logger   *zap.Logger
	store    ModelStore
	location string
	now      func() time.Time

	mu     sync.RWMutex
	handle ClassifierHandle
}

// StatisticalDetectorConfig holds dependencies for the statistical strategy.
type StatisticalDetectorConfig struct {
	Logger *zap.Logger
	Store  ModelStore
	// ModelLocation is a filesystem path for FileModelStore or a base URL
	// for RemoteModelStore.
	ModelLocation string
	Now           func() time.Time
}

func NewStatisticalDetector(cnf StatisticalDetectorConfig) Detector {
	if cnf.Now == nil {
		cnf.Now = time.Now
	}
	return &StatisticalDetector{
		logger:   cnf.Logger,
		store:    cnf.Store,
		location: cnf.ModelLocation,
		now:      cnf.Now,
	}
}

// Evaluate acquires the classifier before touching features or history, so
// an unavailable model fails without any wasted work.
func (d *StatisticalDetector) Evaluate(ctx context.Context, tx views.Transaction, _ history.Profile) (views.DetectionResult, error) {
	handle, err := d.acquireHandle(ctx)
	if err != nil {
		return views.DetectionResult{}, err
	}

	features := d.featureVector(tx)
	margin, err := handle.DecisionFunction(ctx, features)
	if err != nil {
		return views.DetectionResult{}, asScoringError(err)
	}
	label, err := handle.Predict(ctx, features)
	if err != nil {
		return views.DetectionResult{}, asScoringError(err)
	}

	result := views.NewDetectionResult()
	result.Score = sigmoid(margin)
	if label == OutlierLabel {
		result.Anomaly = true
		result.Reasons = append(result.Reasons, ReasonModelOutlier)
	}
	return result, nil
}

// acquireHandle returns the cached classifier, loading it on first use.
func (d *StatisticalDetector) acquireHandle(ctx context.Context) (ClassifierHandle, error) {
	d.mu.RLock()
	handle := d.handle
	d.mu.RUnlock()
	if handle != nil {
		return handle, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		return d.handle, nil
	}
	handle, err := d.store.Load(ctx, d.location)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrModelUnavailableCode, "detection backend unavailable", err)
	}
	d.logger.Info("classifier handle loaded", zap.String("location", d.location))
	d.handle = handle
	return handle, nil
}

func (d *StatisticalDetector) featureVector(tx views.Transaction) []float64 {
	intl := 0.0
	if tx.IsInternational {
		intl = 1.0
	}
	return []float64{
		tx.Amount,
		float64(ExtractHour(tx.Timestamp, tx.Meta, d.now)),
		intl,
		float64(MerchantBucket(tx.Merchant)),
	}
}

// MerchantBucket hashes a merchant name into [0, merchantHashBuckets).
func MerchantBucket(merchant string) int {
	return int(xxhash.Sum64String(merchant) % merchantHashBuckets)
}

// sigmoid squashes a decision margin into (0,1).
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// asScoringError keeps typed backend errors (throttling) intact and wraps
// everything else as a scoring failure.
func asScoringError(err error) error {
	var appErr pkg.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return pkg.NewAppError(pkg.ErrScoringFailedCode, "scoring backend error", err)
}
