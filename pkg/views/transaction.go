package views

import "github.com/smartfinance/anomaly-detection-service/pkg"

// Transaction is the inbound payload evaluated by every detection strategy.
// Timestamp stays a free-form string: upstream producers emit anything from
// full ISO-8601 to bare epoch text, and hour extraction tolerates all of it.
type Transaction struct {
	UserID           string                 `json:"userId" binding:"required" validate:"required"`
	Amount           float64                `json:"amount" binding:"required,gt=0" validate:"required,gt=0"`
	Timestamp        string                 `json:"timestamp"`
	Merchant         string                 `json:"merchant" binding:"required" validate:"required"`
	MerchantCategory string                 `json:"merchant_category"`
	IsInternational  bool                   `json:"is_international"`
	Currency         string                 `json:"currency"`
	Meta             map[string]interface{} `json:"meta"`
}

// ApplyDefaults fills optional fields the same way for HTTP and stream inputs.
func (t *Transaction) ApplyDefaults() {
	if t.Currency == "" {
		t.Currency = pkg.DefaultCurrency
	}
}

// DetectionResult is the verdict returned by a single strategy evaluation.
// Reasons is always non-nil so it serializes as [] rather than null.
type DetectionResult struct {
	Anomaly bool     `json:"anomaly"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// NewDetectionResult returns a clean verdict with an empty reason list.
func NewDetectionResult() DetectionResult {
	return DetectionResult{Reasons: make([]string, 0)}
}
