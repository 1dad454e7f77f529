package utils_test

import (
	"testing"
	"time"

	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestCalculateExponentialBackoffWithJitter_StaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 5 * time.Second

	for count := 1; count <= 64; count++ {
		delay := utils.CalculateExponentialBackoffWithJitter(count, base, max)

		assert.GreaterOrEqual(t, delay, time.Duration(0), "count=%d", count)
		assert.LessOrEqual(t, delay, max, "count=%d", count)
	}
}

func TestCalculateExponentialBackoffWithJitter_ZeroCount(t *testing.T) {
	delay := utils.CalculateExponentialBackoffWithJitter(0, time.Second, time.Minute)

	assert.Equal(t, time.Duration(0), delay)
}
