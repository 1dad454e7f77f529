package pkg_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToErrorResponse_AppErrorKeepsCodeAndStatus(t *testing.T) {
	err := pkg.NewAppError(pkg.ErrModelUnavailableCode, "detection backend unavailable", errors.New("open model.json: no such file"))

	resp := pkg.ToErrorResponse(zap.NewNop(), "trace-1", err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "DETECTION_MODEL_UNAVAILABLE", resp.Code)
	assert.Equal(t, "detection backend unavailable", resp.Message)
}

func TestToErrorResponse_WrappedAppErrorIsUnwrapped(t *testing.T) {
	inner := pkg.NewAppError(pkg.ErrThrottledCode, "scorer request throttled", pkg.ErrRateLimitExceeded)
	wrapped := fmt.Errorf("evaluate statistical: %w", inner)

	resp := pkg.ToErrorResponse(zap.NewNop(), "trace-1", wrapped)

	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, pkg.ErrThrottledCode.Code, resp.Code)
	assert.Equal(t, "scorer request throttled", resp.Message)
}

func TestToErrorResponse_UnknownErrorBecomesInternal(t *testing.T) {
	resp := pkg.ToErrorResponse(zap.NewNop(), "trace-1", errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, pkg.ErrServerCode.Code, resp.Code)
	assert.Equal(t, pkg.ErrServerCode.Message, resp.Message)
}

func TestToErrorResponse_DetailsFollowExposeFlag(t *testing.T) {
	prev := pkg.ExposeErrorDetails
	t.Cleanup(func() { pkg.ExposeErrorDetails = prev })

	pkg.ExposeErrorDetails = false
	hidden := pkg.ToErrorResponse(zap.NewNop(), "trace-1", errors.New("internal detail"))
	assert.Empty(t, hidden.Details)

	pkg.ExposeErrorDetails = true
	shown := pkg.ToErrorResponse(zap.NewNop(), "trace-1", errors.New("internal detail"))
	assert.Equal(t, "internal detail", shown.Details)
}

func TestAppError_ErrorIncludesCause(t *testing.T) {
	err := pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", errors.New("missing userId"))

	assert.Equal(t, "invalid request body: missing userId", err.Error())

	var appErr pkg.AppError
	require.ErrorAs(t, err, &appErr)
	assert.EqualError(t, appErr.Unwrap(), "missing userId")
}

func TestHandleSQLError_NoRowsMapsToNotFound(t *testing.T) {
	err := pkg.HandleSQLError("trace-1", zap.NewNop(), pgx.ErrNoRows)

	var appErr pkg.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pkg.ErrRecordNotFoundCode, appErr.Code)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestHandleSQLError_UniqueViolationMapsToDuplicate(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value", ConstraintName: "user_history_pkey"}

	err := pkg.HandleSQLError("trace-1", zap.NewNop(), pgErr)

	var appErr pkg.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pkg.ErrSQLDuplicateCode, appErr.Code)
}

func TestHandleSQLError_UnknownErrorMapsToSQLUnknown(t *testing.T) {
	err := pkg.HandleSQLError("trace-1", zap.NewNop(), errors.New("connection reset"))

	var appErr pkg.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pkg.ErrSQLUnknownCode, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Code.Status)
}
