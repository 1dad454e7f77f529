package testutils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/smartfinance/anomaly-detection-service/pkg"
)

// DetectionResponse mirrors the wire shape of a successful evaluation.
type DetectionResponse struct {
	Anomaly bool     `json:"anomaly"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// ErrorResponse mirrors the wire shape of a failed evaluation.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func PostRequest(t *testing.T, url string, payload interface{}) (*http.Response, error) {
	return PostRequestWithHeaders(t, url, payload, nil)
}

func PostRequestWithHeaders(t *testing.T, url string, payload interface{}, headers map[string]string) (*http.Response, error) {
	b, _ := json.Marshal(payload)
	t.Logf("Request POST %s", url)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if resp != nil {
		t.Logf("Response POST %s: Status %d", url, resp.StatusCode)
		// Close the body
		t.Cleanup(func() {
			_ = resp.Body.Close()
		})
	}
	return resp, err
}

func GetTraceId(resp *http.Response) string {
	return resp.Header.Get(pkg.HeaderTraceId)
}

func DecodeResult(r io.Reader) (DetectionResponse, error) {
	var out DetectionResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func DecodeError(r io.Reader) (ErrorResponse, error) {
	var out ErrorResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
