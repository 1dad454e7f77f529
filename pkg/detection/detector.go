package detection

import (
	"context"

	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
)

// Strategy identifies one of the interchangeable detection algorithms.
type Strategy string

const (
	StrategyRuleBased   Strategy = "rule_based"
	StrategyStatistical Strategy = "statistical"
	StrategyDemo        Strategy = "demo"
)

// Detector is the capability shared by every strategy. Implementations must
// not mutate the transaction or the profile. Strategies that do not consult
// history ignore the profile argument.
type Detector interface {
	Evaluate(ctx context.Context, tx views.Transaction, profile history.Profile) (views.DetectionResult, error)
}
