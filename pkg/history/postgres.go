package history

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/database"
	"go.uber.org/zap"
)

// PostgresProvider reads profiles from the user_history table. Lookups are
// routed to read replicas when configured.
type PostgresProvider struct {
	logger *zap.Logger
	db     *database.DB
}

func NewPostgresProvider(logger *zap.Logger, db *database.DB) Provider {
	return &PostgresProvider{logger: logger, db: db}
}

func (p *PostgresProvider) Get(ctx context.Context, traceId string, userID string) (Profile, error) {
	var prof Profile
	err := p.db.QueryRow(ctx, `SELECT avg_amount, median_amount, std_amount, transactions_today, merchants, home_country, timezone_offset_hours
			FROM user_history
			WHERE user_id = $1`, userID).
		Scan(&prof.AvgAmount, &prof.MedianAmount, &prof.StdAmount, &prof.TransactionsToday,
			&prof.Merchants, &prof.HomeCountry, &prof.TimezoneOffsetHours)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// First-seen user: score against the engine's calibrated defaults.
			p.logger.Debug("no history for user", zap.String(pkg.TraceId, traceId))
			return Profile{}, nil
		}
		return Profile{}, pkg.HandleSQLError(traceId, p.logger, err)
	}
	return prof, nil
}
