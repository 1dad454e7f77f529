package views

import (
	"time"

	"github.com/smartfinance/anomaly-detection-service/pkg"
)

// TransactionEvent is the payload consumed from the transactions topic.
type TransactionEvent struct {
	EventID     string      `json:"eventId" validate:"required,uuid4"`
	Transaction Transaction `json:"transaction" validate:"required"`
	SourceIP    string      `json:"sourceIp"`
	ReceivedAt  time.Time   `json:"receivedAt"`
}

// VerdictEvent is published to the verdicts topic after evaluation.
type VerdictEvent struct {
	EventID     string            `json:"eventId"`
	UserID      string            `json:"userId"`
	Status      pkg.VerdictStatus `json:"status"`
	Anomaly     bool              `json:"anomaly"`
	Score       float64           `json:"score"`
	Reasons     []string          `json:"reasons"`
	Strategy    string            `json:"strategy"`
	EvaluatedAt time.Time         `json:"evaluatedAt"`
}
