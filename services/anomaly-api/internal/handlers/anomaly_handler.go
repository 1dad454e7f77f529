package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"go.uber.org/zap"
)

type AnomalyHandler struct {
	logger  *zap.Logger
	service detection.Service
}

func NewAnomalyHandler(logger *zap.Logger, svc detection.Service) *AnomalyHandler {
	return &AnomalyHandler{logger: logger, service: svc}
}

// RegisterRoutes registers the three detection routes on the versioned group.
func (h *AnomalyHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/anomaly/rule", h.DetectRuleBased)
	r.POST("/anomaly/ml", h.DetectStatistical)
	r.POST("/anomaly/demo", h.DetectDemo)
}

// DetectRuleBased godoc
// @Summary      Evaluate a transaction with the deterministic rule engine
// @Description  Runs the fixed rule set against the user's spending history and returns the verdict with human-readable reasons.
// @Tags         anomaly
// @Accept       json
// @Produce      json
// @Param        transaction  body      views.Transaction  true  "Transaction to evaluate"
// @Success      200          {object}  views.DetectionResult
// @Failure      400          {object}  pkg.ErrorResponse
// @Failure      500          {object}  pkg.ErrorResponse
// @Router       /anomaly/rule [post]
func (h *AnomalyHandler) DetectRuleBased(c *gin.Context) {
	h.detect(c, h.service.EvaluateRuleBased)
}

// DetectStatistical godoc
// @Summary      Evaluate a transaction with the trained outlier model
// @Description  Scores the transaction's feature vector against the configured classifier. Responds 503 while no model artifact or scorer is available.
// @Tags         anomaly
// @Accept       json
// @Produce      json
// @Param        transaction  body      views.Transaction  true  "Transaction to evaluate"
// @Success      200          {object}  views.DetectionResult
// @Failure      400          {object}  pkg.ErrorResponse
// @Failure      503          {object}  pkg.ErrorResponse
// @Failure      500          {object}  pkg.ErrorResponse
// @Router       /anomaly/ml [post]
func (h *AnomalyHandler) DetectStatistical(c *gin.Context) {
	h.detect(c, h.service.EvaluateStatistical)
}

// DetectDemo godoc
// @Summary      Evaluate a transaction with randomized demo verdicts
// @Description  Returns simulated verdicts for demos and load tests; the transaction content is ignored.
// @Tags         anomaly
// @Accept       json
// @Produce      json
// @Param        transaction  body      views.Transaction  true  "Transaction to evaluate"
// @Success      200          {object}  views.DetectionResult
// @Failure      400          {object}  pkg.ErrorResponse
// @Failure      500          {object}  pkg.ErrorResponse
// @Router       /anomaly/demo [post]
func (h *AnomalyHandler) DetectDemo(c *gin.Context) {
	h.detect(c, h.service.EvaluateDemo)
}

func (h *AnomalyHandler) detect(c *gin.Context, evaluate func(ctx context.Context, traceId string, tx views.Transaction) (views.DetectionResult, error)) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.respondError(c, "", pkg.NewAppError(pkg.ErrServerCode, "trace id missing", err))
		return
	}

	var tx views.Transaction
	if err = c.ShouldBindJSON(&tx); err != nil {
		h.respondError(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	// Merchant text can carry account or card fragments; mask before logging.
	h.logger.Info("transaction received",
		zap.String(pkg.TraceId, traceID),
		zap.String("userId", tx.UserID),
		zap.String("merchant", utils.MaskPersonalData(tx.Merchant)),
		zap.Float64("amount", tx.Amount))

	result, err := evaluate(c.Request.Context(), traceID, tx)
	if err != nil {
		h.respondError(c, traceID, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AnomalyHandler) respondError(c *gin.Context, traceID string, err error) {
	resp := pkg.ToErrorResponse(h.logger, traceID, err)
	c.JSON(resp.Status, resp)
}
