package history

import "context"

// StubProvider returns the same canned profile for every user. It backs
// environments without a history database and matches the fixture the
// rule thresholds were calibrated against.
type StubProvider struct{}

func NewStubProvider() Provider {
	return &StubProvider{}
}

func (s *StubProvider) Get(_ context.Context, _ string, _ string) (Profile, error) {
	return Profile{
		AvgAmount:           600,
		MedianAmount:        350,
		StdAmount:           400,
		TransactionsToday:   2,
		Merchants:           []string{"Zomato", "SBI Card", "Amazon"},
		HomeCountry:         "IN",
		TimezoneOffsetHours: 5.5,
	}, nil
}
