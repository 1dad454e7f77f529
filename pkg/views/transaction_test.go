package views_test

import (
	"encoding/json"
	"testing"

	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsCurrency(t *testing.T) {
	tx := views.Transaction{UserID: "u1", Amount: 10, Merchant: "Zomato"}

	tx.ApplyDefaults()

	assert.Equal(t, "INR", tx.Currency)
}

func TestApplyDefaults_KeepsExplicitCurrency(t *testing.T) {
	tx := views.Transaction{UserID: "u1", Amount: 10, Merchant: "Zomato", Currency: "USD"}

	tx.ApplyDefaults()

	assert.Equal(t, "USD", tx.Currency)
}

func TestDetectionResult_EmptyReasonsSerializeAsArray(t *testing.T) {
	out, err := json.Marshal(views.NewDetectionResult())

	assert.NoError(t, err)
	assert.JSONEq(t, `{"anomaly":false,"score":0,"reasons":[]}`, string(out))
}
