package detection

import (
	"context"

	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"go.uber.org/zap"
)

// Service is the single entry point for transaction evaluation. One method
// per strategy; callers pick the strategy by route, not by parameter.
type Service interface {
	EvaluateRuleBased(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error)
	EvaluateStatistical(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error)
	EvaluateDemo(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error)
}

type ServiceImpl struct {
	logger      *zap.Logger
	history     history.Provider
	ruleBased   Detector
	statistical Detector
	demo        Detector
}

// ServiceConfig holds dependencies for ServiceImpl.
type ServiceConfig struct {
	Logger      *zap.Logger
	History     history.Provider
	RuleBased   Detector
	Statistical Detector
	Demo        Detector
}

func NewService(cnf ServiceConfig) Service {
	return &ServiceImpl{
		logger:      cnf.Logger,
		history:     cnf.History,
		ruleBased:   cnf.RuleBased,
		statistical: cnf.Statistical,
		demo:        cnf.Demo,
	}
}

func (s *ServiceImpl) EvaluateRuleBased(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error) {
	return s.evaluate(ctx, traceId, StrategyRuleBased, s.ruleBased, tx)
}

func (s *ServiceImpl) EvaluateStatistical(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error) {
	return s.evaluate(ctx, traceId, StrategyStatistical, s.statistical, tx)
}

func (s *ServiceImpl) EvaluateDemo(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error) {
	return s.evaluate(ctx, traceId, StrategyDemo, s.demo, tx)
}

func (s *ServiceImpl) evaluate(ctx context.Context, traceId string, strategy Strategy, detector Detector, tx views.Transaction) (views.DetectionResult, error) {
	tx.ApplyDefaults()

	// Only the rule-based strategy reads user history. The statistical path
	// must fail on a missing model before any profile lookup happens, and
	// the demo path never consults it.
	var profile history.Profile
	if strategy == StrategyRuleBased {
		var err error
		profile, err = s.history.Get(ctx, traceId, tx.UserID)
		if err != nil {
			// Degrade to an empty profile; the detector substitutes defaults.
			s.logger.Warn("history lookup failed, using defaults",
				zap.String(pkg.TraceId, traceId),
				zap.String("userId", tx.UserID),
				zap.Error(err))
			profile = history.Profile{}
		}
	}

	result, err := detector.Evaluate(ctx, tx, profile)
	if err != nil {
		return views.DetectionResult{}, err
	}

	s.logger.Info("transaction evaluated",
		zap.String(pkg.TraceId, traceId),
		zap.String("strategy", string(strategy)),
		zap.String("userId", tx.UserID),
		zap.Bool("anomaly", result.Anomaly),
		zap.Float64("score", result.Score),
		zap.Int("reasons", len(result.Reasons)))
	return result, nil
}
