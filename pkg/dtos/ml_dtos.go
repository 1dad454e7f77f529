package dtos

// PredictRequest carries the fixed-order feature vector sent to the scorer
// sidecar.
type PredictRequest struct {
	Amount          float64 `json:"amount"`
	Hour            int     `json:"hour"`
	IsInternational int     `json:"isInternational"`
	MerchantBucket  int     `json:"merchantBucket"`
}

// PredictResponse is the scorer verdict. Score is an anomaly strength rated
// against Threshold; at or above the threshold the sample is an outlier.
type PredictResponse struct {
	Score     float64 `json:"score"`
	IsOutlier bool    `json:"isOutlier"`
	Threshold float64 `json:"threshold"`
}
