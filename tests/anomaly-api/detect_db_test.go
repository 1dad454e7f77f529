package anomalyapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	testutils "github.com/smartfinance/anomaly-detection-service/tests/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRule_ProfileFromDatabase(t *testing.T) {
	// Arrange: disposable Postgres + Redis, api wired to both.
	dsn, stopPg, err := testutils.StartPostgresForTests()
	require.NoError(t, err)
	defer stopPg()
	redisAddr, stopRedis, err := testutils.StartRedisForTests()
	require.NoError(t, err)
	defer stopRedis()

	baseURL, stop := testutils.StartAnomalyAPIServerWithEnv(t, map[string]string{
		"APP_PRIMARY_DB_ADDR": dsn,
		"APP_REDIS_ADDR":      redisAddr,
	})
	defer stop()

	testutils.SeedHistoryProfile(t, dsn, "user-db-1", history.Profile{
		AvgAmount:           800,
		MedianAmount:        700,
		StdAmount:           200,
		TransactionsToday:   1,
		Merchants:           []string{"Amazon", "Flipkart"},
		HomeCountry:         "IN",
		TimezoneOffsetHours: 5.5,
	})

	// 1500 sits above avg+3*std for the seeded profile but inside every other
	// threshold, and Flipkart is a known merchant there. The stub profile would
	// produce a different verdict, so this pins the database read.
	payload := map[string]interface{}{
		"userId":    "user-db-1",
		"amount":    1500,
		"merchant":  "Flipkart",
		"timestamp": "2024-06-01T13:00:00Z",
	}

	// Act
	resp, err := testutils.PostRequest(t, baseURL+"/api/v1/anomaly/rule", payload)
	assert.NoError(t, err)

	// Assert response
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out, err := testutils.DecodeResult(resp.Body)
	require.NoError(t, err)
	assert.True(t, out.Anomaly)
	assert.Equal(t, 0.2, out.Score)
	assert.Equal(t, []string{"Amount is far outside typical variance"}, out.Reasons)

	// Assert the profile landed in the read-through cache
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cached, err := rdb.Exists(ctx, "history:profile:user-db-1").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), cached)

	// A row change must not surface within the cache TTL
	testutils.UpdateHistoryStdDev(t, dsn, "user-db-1", 5000)
	resp2, err := testutils.PostRequest(t, baseURL+"/api/v1/anomaly/rule", payload)
	assert.NoError(t, err)
	out2, err := testutils.DecodeResult(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, out.Score, out2.Score)
	assert.Equal(t, out.Reasons, out2.Reasons)
}

func TestDetectRule_FirstSeenUserScoredOnDefaults(t *testing.T) {
	// Postgres only: a user with no history row scores against the engine's
	// calibrated defaults (avg 500, std 300, median 500), not the stub profile.
	dsn, stopPg, err := testutils.StartPostgresForTests()
	require.NoError(t, err)
	defer stopPg()

	baseURL, stop := testutils.StartAnomalyAPIServerWithEnv(t, map[string]string{
		"APP_PRIMARY_DB_ADDR": dsn,
	})
	defer stop()

	payload := map[string]interface{}{
		"userId":    "user-unseen-9",
		"amount":    1700,
		"merchant":  "Chai Point",
		"timestamp": "2024-06-01T13:00:00Z",
	}

	resp, err := testutils.PostRequest(t, baseURL+"/api/v1/anomaly/rule", payload)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out, err := testutils.DecodeResult(resp.Body)
	require.NoError(t, err)
	assert.True(t, out.Anomaly)
	assert.Equal(t, 0.6, out.Score)
	assert.Equal(t, []string{
		"High compared to user's typical transaction",
		"Amount is far outside typical variance",
		"Merchant is new/unfamiliar",
	}, out.Reasons)
}
