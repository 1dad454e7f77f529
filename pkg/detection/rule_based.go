package detection

import (
	"context"
	"math"
	"time"

	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
)

// Reason strings are part of the wire contract; downstream explanation UIs
// key off the exact text.
const (
	ReasonVeryLargeAmount      = "Very large transaction amount"
	ReasonAboveTypicalSpend    = "High compared to user's typical transaction"
	ReasonOutsideVariance      = "Amount is far outside typical variance"
	ReasonUnusualHour          = "Transaction at unusual hour"
	ReasonUnfamiliarMerchant   = "Merchant is new/unfamiliar"
	ReasonInternationalHighVal = "International high-value transaction"
	ReasonHighDailyFrequency   = "Unusually high transaction frequency today"
)

// Rule thresholds, calibrated against the stub history fixture.
const (
	absoluteAmountCeiling    = 20000.0
	medianMultiplier         = 3.0
	varianceMultiplier       = 3.0
	quietHoursEnd            = 6 // transactions before 06:00 are unusual
	latestPlausibleHour      = 23
	internationalAmountFloor = 1000.0
	dailyTransactionCeiling  = 10

	// Defaults substituted for empty profile fields.
	defaultAvgAmount = 500.0
	minStdDev        = 1.0
	stdDevShare      = 0.6

	// Each triggered rule adds 1/scoreDivisor to the score, capped at 1.0.
	scoreDivisor = 5.0
)

// RuleBasedDetector combines independent threshold checks into a verdict with
// ordered, human-readable reasons. The evaluation order below is fixed: it
// defines the order of the reasons callers observe.
type RuleBasedDetector struct {
	now func() time.Time
}

// NewRuleBasedDetector creates the deterministic rule strategy. A nil clock
// defaults to time.Now; tests inject a fixed clock for hour fallbacks.
func NewRuleBasedDetector(now func() time.Time) Detector {
	if now == nil {
		now = time.Now
	}
	return &RuleBasedDetector{now: now}
}

func (d *RuleBasedDetector) Evaluate(_ context.Context, tx views.Transaction, profile history.Profile) (views.DetectionResult, error) {
	avg := profile.AvgAmount
	if avg == 0 {
		avg = defaultAvgAmount
	}
	std := profile.StdAmount
	if std == 0 {
		std = math.Max(minStdDev, stdDevShare*avg)
	}
	median := profile.MedianAmount
	if median == 0 {
		median = avg
	}

	result := views.NewDetectionResult()

	if tx.Amount > absoluteAmountCeiling {
		result.Reasons = append(result.Reasons, ReasonVeryLargeAmount)
	}
	if tx.Amount > medianMultiplier*median {
		result.Reasons = append(result.Reasons, ReasonAboveTypicalSpend)
	}
	if tx.Amount > avg+varianceMultiplier*std {
		result.Reasons = append(result.Reasons, ReasonOutsideVariance)
	}
	hour := ExtractHour(tx.Timestamp, tx.Meta, d.now)
	if hour < quietHoursEnd || hour > latestPlausibleHour {
		// The upper branch cannot fire for an in-range hour; kept as written.
		result.Reasons = append(result.Reasons, ReasonUnusualHour)
	}
	if !profile.KnowsMerchant(tx.Merchant) {
		result.Reasons = append(result.Reasons, ReasonUnfamiliarMerchant)
	}
	if tx.IsInternational && tx.Amount > internationalAmountFloor {
		result.Reasons = append(result.Reasons, ReasonInternationalHighVal)
	}
	if profile.TransactionsToday > dailyTransactionCeiling {
		result.Reasons = append(result.Reasons, ReasonHighDailyFrequency)
	}

	result.Anomaly = len(result.Reasons) > 0
	result.Score = math.Min(1.0, float64(len(result.Reasons))/scoreDivisor)
	return result, nil
}
