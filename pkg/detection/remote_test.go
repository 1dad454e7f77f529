package detection_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/smartfinance/anomaly-detection-service/pkg/dtos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func scorerStub(t *testing.T, respond func(w http.ResponseWriter, req dtos.PredictRequest)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/score", func(w http.ResponseWriter, r *http.Request) {
		var req dtos.PredictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		respond(w, req)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeScore(w http.ResponseWriter, resp dtos.PredictResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestRemoteClassifier_MarginConvention(t *testing.T) {
	server := scorerStub(t, func(w http.ResponseWriter, _ dtos.PredictRequest) {
		writeScore(w, dtos.PredictResponse{Score: 0.8, IsOutlier: false, Threshold: 0.5})
	})
	classifier := detection.NewRemoteClassifier(detection.RemoteClassifierConfig{
		Logger: zap.NewNop(), Addr: server.URL,
	})

	margin, err := classifier.DecisionFunction(context.Background(), []float64{100, 12, 0, 42})

	// Scores above the threshold are outliers upstream, so the local margin
	// flips sign: threshold - score.
	require.NoError(t, err)
	assert.InDelta(t, -0.3, margin, 1e-9)
}

func TestRemoteClassifier_PredictMapsOutlierFlag(t *testing.T) {
	server := scorerStub(t, func(w http.ResponseWriter, req dtos.PredictRequest) {
		writeScore(w, dtos.PredictResponse{Score: 0.9, IsOutlier: req.IsInternational == 1, Threshold: 0.5})
	})
	classifier := detection.NewRemoteClassifier(detection.RemoteClassifierConfig{
		Logger: zap.NewNop(), Addr: server.URL,
	})

	label, err := classifier.Predict(context.Background(), []float64{100, 12, 1, 42})
	require.NoError(t, err)
	assert.Equal(t, detection.OutlierLabel, label)

	label, err = classifier.Predict(context.Background(), []float64{100, 12, 0, 42})
	require.NoError(t, err)
	assert.Equal(t, 1, label)
}

func TestRemoteClassifier_ForwardsFeatureFields(t *testing.T) {
	var got atomic.Value
	server := scorerStub(t, func(w http.ResponseWriter, req dtos.PredictRequest) {
		got.Store(req)
		writeScore(w, dtos.PredictResponse{Score: 0.1, Threshold: 0.5})
	})
	classifier := detection.NewRemoteClassifier(detection.RemoteClassifierConfig{
		Logger: zap.NewNop(), Addr: server.URL,
	})

	_, err := classifier.DecisionFunction(context.Background(), []float64{2499.5, 23, 1, 777})

	require.NoError(t, err)
	assert.Equal(t, dtos.PredictRequest{Amount: 2499.5, Hour: 23, IsInternational: 1, MerchantBucket: 777}, got.Load())
}

func TestRemoteClassifier_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	server := scorerStub(t, func(w http.ResponseWriter, _ dtos.PredictRequest) {
		if hits.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusInternalServerError)
			return
		}
		writeScore(w, dtos.PredictResponse{Score: 0.1, Threshold: 0.5})
	})
	classifier := detection.NewRemoteClassifier(detection.RemoteClassifierConfig{
		Logger: zap.NewNop(), Addr: server.URL,
	})

	margin, err := classifier.DecisionFunction(context.Background(), []float64{100, 12, 0, 42})

	require.NoError(t, err)
	assert.InDelta(t, 0.4, margin, 1e-9)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRemoteClassifier_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	server := scorerStub(t, func(w http.ResponseWriter, _ dtos.PredictRequest) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	classifier := detection.NewRemoteClassifier(detection.RemoteClassifierConfig{
		Logger: zap.NewNop(), Addr: server.URL,
	})

	_, err := classifier.DecisionFunction(context.Background(), []float64{100, 12, 0, 42})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scorer returned 500")
	assert.Equal(t, int32(3), hits.Load())
}

func TestRemoteClassifier_RejectsWrongDimension(t *testing.T) {
	classifier := detection.NewRemoteClassifier(detection.RemoteClassifierConfig{
		Logger: zap.NewNop(), Addr: "http://127.0.0.1:1",
	})

	_, err := classifier.DecisionFunction(context.Background(), []float64{1, 2})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature dimension mismatch")
}

func TestRemoteModelStore_LoadProbesHealth(t *testing.T) {
	server := scorerStub(t, func(w http.ResponseWriter, _ dtos.PredictRequest) {
		writeScore(w, dtos.PredictResponse{Score: 0.1, Threshold: 0.5})
	})
	store := detection.NewRemoteModelStore(zap.NewNop(), nil, nil, time.Second)

	handle, err := store.Load(context.Background(), server.URL)

	require.NoError(t, err)
	margin, err := handle.DecisionFunction(context.Background(), []float64{100, 12, 0, 42})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, margin, 1e-9)
}

func TestRemoteModelStore_UnhealthySidecarFailsLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not mounted", http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	store := detection.NewRemoteModelStore(zap.NewNop(), nil, nil, time.Second)

	_, err := store.Load(context.Background(), server.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scorer health returned 503")
}

func TestRemoteModelStore_UnreachableSidecarFailsLoad(t *testing.T) {
	client := &http.Client{Timeout: 100 * time.Millisecond}
	store := detection.NewRemoteModelStore(zap.NewNop(), client, nil, time.Second)

	_, err := store.Load(context.Background(), "http://127.0.0.1:1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scorer unreachable")
}
