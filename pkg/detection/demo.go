package detection

import (
	"context"
	"math/rand"

	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
)

const (
	ReasonSimulatedHigh   = "Simulated high anomaly (demo)"
	ReasonSimulatedMedium = "Simulated medium anomaly (demo)"

	demoHighBand   = 0.05
	demoMediumBand = 0.20

	demoHighScore   = 0.95
	demoMediumScore = 0.6
	demoCleanScore  = 0.05
)

// DemoDetector produces randomized verdicts for demos and load tests. It
// ignores the transaction and profile entirely: roughly 5% of draws come
// back as high anomalies and another 15% as medium ones.
type DemoDetector struct {
	// Rand yields a draw in [0,1). Injectable so tests pin the outcome.
	rand func() float64
}

func NewDemoDetector(random func() float64) Detector {
	if random == nil {
		random = rand.Float64
	}
	return &DemoDetector{rand: random}
}

func (d *DemoDetector) Evaluate(_ context.Context, _ views.Transaction, _ history.Profile) (views.DetectionResult, error) {
	result := views.NewDetectionResult()
	draw := d.rand()
	switch {
	case draw < demoHighBand:
		result.Anomaly = true
		result.Score = demoHighScore
		result.Reasons = append(result.Reasons, ReasonSimulatedHigh)
	case draw < demoMediumBand:
		result.Anomaly = true
		result.Score = demoMediumScore
		result.Reasons = append(result.Reasons, ReasonSimulatedMedium)
	default:
		result.Score = demoCleanScore
	}
	return result, nil
}
