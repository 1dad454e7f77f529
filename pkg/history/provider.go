package history

import "context"

// Profile is a user's historical spending profile. The zero value is valid:
// the rule engine substitutes calibrated defaults for missing aggregates.
type Profile struct {
	AvgAmount           float64  `json:"avgAmount"`
	MedianAmount        float64  `json:"medianAmount"`
	StdAmount           float64  `json:"stdAmount"`
	TransactionsToday   int      `json:"transactionsToday"`
	Merchants           []string `json:"merchants"`
	HomeCountry         string   `json:"homeCountry"`
	TimezoneOffsetHours float64  `json:"timezoneOffsetHours"`
}

// KnowsMerchant reports whether the user has transacted with the merchant
// before. Matching is exact; merchant normalization happens upstream.
func (p Profile) KnowsMerchant(name string) bool {
	for _, m := range p.Merchants {
		if m == name {
			return true
		}
	}
	return false
}

// Provider supplies historical spending profiles to the detection engine.
type Provider interface {
	Get(ctx context.Context, traceId string, userID string) (Profile, error)
}
