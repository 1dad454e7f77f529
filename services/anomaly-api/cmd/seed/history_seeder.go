// cmd/seed
//
// Dev seeder for the anomaly API:
//  1. Upserts synthetic user_history profiles into Postgres (skipped when no
//     database is configured).
//  2. Replays transaction traffic against a detection route with per-second
//     outbound request throttling.
//
// Concurrency is a fixed worker pool (maxConcurrentRequests); throughput is
// an RPS token bucket. A small share of the generated transactions is shaped
// to trip the rule engine so dashboards show both verdicts.
//
// Example:
//
//	go run ./services/anomaly-api/cmd/seed \
//	  -noOfUsers=500 \
//	  -noOfTransactions=20000 \
//	  -anomalyRate=0.05 \
//	  -maxConcurrentRequests=100 \
//	  -rps=400 \
//	  -strategy=rule \
//	  -apiUrl=http://localhost:8080
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/database"
	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-api/configs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// --------- CLI flags ---------
var (
	noOfUsers             = flag.Int("noOfUsers", 100, "Number of user_history profiles to seed")
	noOfTransactions      = flag.Int("noOfTransactions", 1000, "Total number of transactions to replay")
	anomalyRate           = flag.Float64("anomalyRate", 0.05, "Share of replayed transactions shaped to look anomalous")
	maxConcurrentRequests = flag.Int("maxConcurrentRequests", 10, "Max in-flight HTTP requests (worker pool size)")
	rps                   = flag.Int("rps", 100, "Global requests-per-second limit for outbound detection calls")
	rpsBurst              = flag.Int("rpsBurst", 0, "Burst size for the limiter (0 => equals rps)")
	strategy              = flag.String("strategy", "rule", "Detection route to replay against: rule, ml or demo")
	apiURL                = flag.String("apiUrl", "http://localhost:8080", "Anomaly API base URL")
	skipTraffic           = flag.Bool("skipTraffic", false, "Seed profiles only, no HTTP replay")
)

var merchantPool = []string{
	"Zomato", "SBI Card", "Amazon", "Swiggy", "Flipkart",
	"IRCTC", "BigBasket", "Uber", "Reliance Digital", "Cafe Coffee Day",
}

type Seeder struct {
	apiURL      string
	route       string
	anomalyRate float64

	workers    int
	limiter    *rate.Limiter
	httpClient *http.Client
	ctx        context.Context
	logger     *zap.Logger
	rng        *rand.Rand

	// metrics
	enqueued int64
	sent     int64
	ok       int64
	fail     int64
}

func main() {
	flag.Parse()

	// logger
	pkg.InitLogger("anomaly-seeder")
	logger := pkg.Logger
	defer logger.Sync()

	// config file(s)
	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	route, err := routeFor(*strategy)
	if err != nil {
		logger.Fatal("invalid_strategy", zap.Error(err))
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// seed user_history when a database is configured; stub-mode deployments
	// have nothing to write to
	if cfg.PrimaryDbAddr != "" {
		db, closer, err := database.New(ctx, logger, database.Config{
			PrimaryDSN: cfg.PrimaryDbAddr,
			ReadDSNs:   []string{cfg.ReplicaDbAddr},
			MaxConns:   cfg.MaxDbCons,
			MinConns:   cfg.MinDbCons,
		})
		if err != nil {
			logger.Fatal("failed_to_init_db", zap.Error(err))
		}
		defer closer()

		if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
			logger.Fatal("failed_to_run_database_migrations", zap.Error(err))
		}
		if err := seedProfiles(ctx, logger, db, rng, *noOfUsers); err != nil {
			logger.Fatal("failed_to_seed_profiles", zap.Error(err))
		}
	} else {
		logger.Warn("no_database_configured_skipping_profile_seed")
	}

	if *skipTraffic {
		logger.Info("traffic_replay_skipped")
		return
	}

	if *rps <= 0 {
		logger.Fatal("rps_must_be_positive")
	}
	burst := *rpsBurst
	if burst <= 0 {
		burst = *rps
	}

	seeder := &Seeder{
		apiURL:      *apiURL,
		route:       route,
		anomalyRate: *anomalyRate,
		workers:     *maxConcurrentRequests,
		limiter:     rate.NewLimiter(rate.Limit(*rps), burst),
		httpClient:  utils.NewHTTPClient(utils.WithMaxIdleConnsPerHost(*maxConcurrentRequests)),
		ctx:         ctx,
		logger:      logger,
		rng:         rng,
	}

	start := time.Now()
	logger.Info("start_replay",
		zap.Int("no_of_transactions", *noOfTransactions),
		zap.Int("workers", seeder.workers),
		zap.Int("rps", *rps),
		zap.Int("burst", burst),
		zap.String("route", route),
	)

	seeder.Run(*noOfTransactions, *noOfUsers)

	logger.Info("replay_completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("enqueued", atomic.LoadInt64(&seeder.enqueued)),
		zap.Int64("sent", atomic.LoadInt64(&seeder.sent)),
		zap.Int64("success", atomic.LoadInt64(&seeder.ok)),
		zap.Int64("failed", atomic.LoadInt64(&seeder.fail)),
	)
}

func routeFor(strategy string) (string, error) {
	switch strategy {
	case "rule":
		return "/api/v1/anomaly/rule", nil
	case "ml":
		return "/api/v1/anomaly/ml", nil
	case "demo":
		return "/api/v1/anomaly/demo", nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want rule, ml or demo)", strategy)
	}
}

// seedProfiles upserts noOfUsers synthetic spending profiles plus the fixed
// demo-user profile inside one transaction, so re-runs are idempotent.
func seedProfiles(ctx context.Context, logger *zap.Logger, db *database.DB, rng *rand.Rand, noOfUsers int) error {
	const upsert = `
		INSERT INTO user_history
			(user_id, avg_amount, median_amount, std_amount, transactions_today,
			 merchants, home_country, timezone_offset_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			avg_amount            = EXCLUDED.avg_amount,
			median_amount         = EXCLUDED.median_amount,
			std_amount            = EXCLUDED.std_amount,
			transactions_today    = EXCLUDED.transactions_today,
			merchants             = EXCLUDED.merchants,
			home_country          = EXCLUDED.home_country,
			timezone_offset_hours = EXCLUDED.timezone_offset_hours,
			updated_at            = NOW()`

	return db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		// The canonical demo profile, same numbers the stub provider serves.
		if _, err := tx.Exec(ctx, upsert, "demo-user",
			600.0, 350.0, 400.0, 2,
			[]string{"Zomato", "SBI Card", "Amazon"}, "IN", 5.5); err != nil {
			return err
		}

		for i := 1; i <= noOfUsers; i++ {
			userID := fmt.Sprintf("user_%d", i)
			avg := 200.0 + rng.Float64()*600.0
			median := avg * (0.5 + rng.Float64()*0.4)
			std := avg * (0.3 + rng.Float64()*0.5)
			knownMerchants := pickMerchants(rng, 2+rng.Intn(4))

			logger.Debug("seeding_profile", zap.String("user_id", userID), zap.Float64("avg_amount", avg))
			if _, err := tx.Exec(ctx, upsert, userID,
				round2(avg), round2(median), round2(std), rng.Intn(6),
				knownMerchants, "IN", 5.5); err != nil {
				return err
			}
		}
		logger.Info("profiles_seeded", zap.Int("count", noOfUsers+1))
		return nil
	})
}

func pickMerchants(rng *rand.Rand, n int) []string {
	shuffled := append([]string(nil), merchantPool...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// Run fans noOfTransactions jobs out over the worker pool, throttled by the
// shared RPS limiter.
func (s *Seeder) Run(noOfTransactions, noOfUsers int) {
	jobs := make(chan views.Transaction, minInt(noOfTransactions, 10000)) // bounded buffer

	var workersWG sync.WaitGroup
	workersWG.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer workersWG.Done()
			for tx := range jobs {
				// throttle by RPS before sending the request
				if err := s.limiter.Wait(s.ctx); err != nil {
					s.logger.Warn("limiter_wait_interrupted", zap.Error(err))
					return
				}
				s.sendTransaction(tx)
			}
		}()
	}

enqueue:
	for i := 0; i < noOfTransactions; i++ {
		tx := s.randomTransaction(noOfUsers)
		select {
		case <-s.ctx.Done():
			break enqueue
		case jobs <- tx:
			atomic.AddInt64(&s.enqueued, 1)
		}
	}

	close(jobs)
	workersWG.Wait()
}

// randomTransaction generates a plausible daytime purchase, or, at
// anomalyRate, a transaction shaped to trip several rules at once.
func (s *Seeder) randomTransaction(noOfUsers int) views.Transaction {
	userID := fmt.Sprintf("user_%d", 1+s.rng.Intn(noOfUsers))

	if s.rng.Float64() < s.anomalyRate {
		return views.Transaction{
			UserID:          userID,
			Amount:          round2(20000 + s.rng.Float64()*20000),
			Timestamp:       timestampAtHour(2),
			Merchant:        fmt.Sprintf("Unknown Shop %d", s.rng.Intn(1000)),
			IsInternational: true,
		}
	}
	return views.Transaction{
		UserID:    userID,
		Amount:    round2(50 + s.rng.Float64()*1500),
		Timestamp: timestampAtHour(9 + s.rng.Intn(12)),
		Merchant:  merchantPool[s.rng.Intn(len(merchantPool))],
	}
}

func (s *Seeder) sendTransaction(tx views.Transaction) {
	start := time.Now()
	atomic.AddInt64(&s.sent, 1)

	body, _ := json.Marshal(tx)
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.apiURL+s.route, bytes.NewBuffer(body))
	if err != nil {
		atomic.AddInt64(&s.fail, 1)
		s.logger.Error("build_request_failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(pkg.HeaderRequestId, uuid.New().String())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		atomic.AddInt64(&s.fail, 1)
		s.logger.Error("api_call_failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	lat := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&s.fail, 1)
		s.logger.Error("api_call_failed",
			zap.String("user_id", tx.UserID),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("latency", lat),
		)
		return
	}

	atomic.AddInt64(&s.ok, 1)
	s.logger.Debug("api_call_completed",
		zap.String("user_id", tx.UserID),
		zap.String(pkg.TraceId, resp.Header.Get(pkg.HeaderTraceId)),
		zap.Duration("latency", lat),
	)
}

func timestampAtHour(hour int) string {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 15, 0, 0, time.UTC).Format(time.RFC3339)
}

func round2(val float64) float64 {
	return float64(int(val*100)) / 100
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
