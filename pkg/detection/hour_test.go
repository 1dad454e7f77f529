package detection_test

import (
	"testing"
	"time"

	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/stretchr/testify/assert"
)

// fixedClock pins "now" to 14:30 UTC so fallback assertions are stable.
func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)
}

func TestExtractHour_ZSuffixTreatedAsUTC(t *testing.T) {
	hour := detection.ExtractHour("2024-01-01T23:00:00Z", nil, fixedClock)

	assert.Equal(t, 23, hour)
}

func TestExtractHour_KeepsLocalClockFaceForOffsets(t *testing.T) {
	// No conversion: the hour is read off the timestamp's own clock face.
	hour := detection.ExtractHour("2024-06-01T09:30:00+05:30", nil, fixedClock)

	assert.Equal(t, 9, hour)
}

func TestExtractHour_PlainTimestampWithoutOffset(t *testing.T) {
	hour := detection.ExtractHour("2024-01-01T07:05:00", nil, fixedClock)

	assert.Equal(t, 7, hour)
}

func TestExtractHour_FractionalSeconds(t *testing.T) {
	hour := detection.ExtractHour("2024-01-01T23:00:00.123Z", nil, fixedClock)

	assert.Equal(t, 23, hour)
}

func TestExtractHour_SpaceSeparator(t *testing.T) {
	hour := detection.ExtractHour("2024-01-01 18:45:00", nil, fixedClock)

	assert.Equal(t, 18, hour)
}

func TestExtractHour_DateOnlyIsMidnight(t *testing.T) {
	hour := detection.ExtractHour("2024-01-01", nil, fixedClock)

	assert.Equal(t, 0, hour)
}

func TestExtractHour_EmptyTimestampUsesMetaHour(t *testing.T) {
	hour := detection.ExtractHour("", map[string]interface{}{"hour": 3}, fixedClock)

	assert.Equal(t, 3, hour)
}

func TestExtractHour_MetaHourFromJSONNumber(t *testing.T) {
	// encoding/json decodes numbers into float64.
	hour := detection.ExtractHour("", map[string]interface{}{"hour": float64(22)}, fixedClock)

	assert.Equal(t, 22, hour)
}

func TestExtractHour_MetaHourFromDigitString(t *testing.T) {
	hour := detection.ExtractHour("", map[string]interface{}{"hour": "4"}, fixedClock)

	assert.Equal(t, 4, hour)
}

func TestExtractHour_EmptyTimestampNoMetaFallsBackToClock(t *testing.T) {
	hour := detection.ExtractHour("", nil, fixedClock)

	assert.Equal(t, 14, hour)
}

func TestExtractHour_MalformedTimestampFallsBackToMeta(t *testing.T) {
	hour := detection.ExtractHour("not-a-timestamp", map[string]interface{}{"hour": 5}, fixedClock)

	assert.Equal(t, 5, hour)
}

func TestExtractHour_MalformedTimestampNoMetaFallsBackToClock(t *testing.T) {
	hour := detection.ExtractHour("2024-13-45T99:99:99Z", nil, fixedClock)

	assert.Equal(t, 14, hour)
}

func TestExtractHour_OutOfRangeMetaHourIgnored(t *testing.T) {
	hour := detection.ExtractHour("", map[string]interface{}{"hour": 99}, fixedClock)

	assert.Equal(t, 14, hour)
}

func TestExtractHour_UnparseableMetaHourIgnored(t *testing.T) {
	hour := detection.ExtractHour("", map[string]interface{}{"hour": "soon"}, fixedClock)

	assert.Equal(t, 14, hour)
}
