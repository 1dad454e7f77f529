package testutils

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgresForTests starts a disposable PostgreSQL container for integration
// tests. It returns a DSN without the `postgres://` prefix to match
// APP_PRIMARY_DB_ADDR (the app prepends the protocol internally), and a
// termination func for cleanup. Schema setup is left to the app: migrations run
// at startup.
func StartPostgresForTests() (dsnNoProto string, terminate func(), err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const (
		user     = "db_user"
		password = "db_password"
		dbName   = "anomaly_detection"
	)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       dbName,
		},
		// Postgres restarts once during init; the second "ready" line is the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, e := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if e != nil {
		err = fmt.Errorf("failed to start postgres test container: %w", e)
		return
	}

	host, e := pgC.Host(ctx)
	if e != nil {
		_ = pgC.Terminate(context.Background())
		err = fmt.Errorf("failed to get postgres host: %w", e)
		return
	}
	port, e := pgC.MappedPort(ctx, "5432/tcp")
	if e != nil {
		_ = pgC.Terminate(context.Background())
		err = fmt.Errorf("failed to get mapped port: %w", e)
		return
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), dbName)

	terminate = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = pgC.Terminate(ctx)
	}

	dsnNoProto = strings.TrimPrefix(connStr, "postgres://")
	return
}

// StartRedisForTests spins up a Redis container and returns host:port and a terminate function.
func StartRedisForTests() (addr string, terminate func(), err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	rc, e := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if e != nil {
		err = fmt.Errorf("failed to start redis test container: %w", e)
		return
	}

	host, e := rc.Host(ctx)
	if e != nil {
		_ = rc.Terminate(context.Background())
		err = fmt.Errorf("failed to get redis host: %w", e)
		return
	}
	mapped, e := rc.MappedPort(ctx, "6379/tcp")
	if e != nil {
		_ = rc.Terminate(context.Background())
		err = fmt.Errorf("failed to get redis mapped port: %w", e)
		return
	}
	addr = fmt.Sprintf("%s:%s", host, mapped.Port())

	terminate = func() {
		ctx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()
		_ = rc.Terminate(ctx)
	}
	return
}

// SeedHistoryProfile inserts a spending profile for userID. Call it after the
// server is ready so migrations have created the user_history table.
func SeedHistoryProfile(t *testing.T, dsnNoProto, userID string, prof history.Profile) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, "postgres://"+dsnNoProto)
	if err != nil {
		t.Fatalf("failed to connect to postgres for seeding: %v", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	_, err = conn.Exec(ctx, `INSERT INTO user_history
			(user_id, avg_amount, median_amount, std_amount, transactions_today, merchants, home_country, timezone_offset_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		userID, prof.AvgAmount, prof.MedianAmount, prof.StdAmount, prof.TransactionsToday,
		prof.Merchants, prof.HomeCountry, prof.TimezoneOffsetHours)
	if err != nil {
		t.Fatalf("failed to insert seed profile: %v", err)
	}
}

// UpdateHistoryStdDev rewrites the stored deviation for userID, used to prove
// cached reads survive an underlying row change.
func UpdateHistoryStdDev(t *testing.T, dsnNoProto, userID string, std float64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, "postgres://"+dsnNoProto)
	if err != nil {
		t.Fatalf("failed to connect to postgres for update: %v", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if _, err := conn.Exec(ctx, `UPDATE user_history SET std_amount = $1 WHERE user_id = $2`, std, userID); err != nil {
		t.Fatalf("failed to update seed profile: %v", err)
	}
}
