// cmd/historian/main.go is an asynchronous historian service that pops session
// activity records from a Redis queue and persists them to PostgreSQL. It also
// marks sessions abandoned after a period of inactivity.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/arcadia-gg/arcadia/internal/cache"
	"github.com/arcadia-gg/arcadia/internal/database"
)

// HistorianService encapsulates the Redis + DB logic for capturing session
// activity and marking sessions abandoned when the inactivity threshold is
// reached.
type HistorianService struct {
	redisClient  *redis.Client
	batchSize    int
	flushDelay   time.Duration
	inactivity   time.Duration
	lastActivity sync.Map // map[uuid.UUID]time.Time per session

	batchMu  sync.Mutex
	batch    []cache.ActivityRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewHistorianService constructs a HistorianService from environment variables or defaults.
func NewHistorianService() *HistorianService {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)
	inactivitySec := getEnvInt("SESSION_INACTIVITY_TIMEOUT_SEC", 600) // default 10 min

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &HistorianService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		inactivity:  time.Duration(inactivitySec) * time.Second,
		batch:       make([]cache.ActivityRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run starts the two main loops:
//  1. A loop that reads from the Redis queue, accumulates records in a batch, and flushes them to the DB.
//  2. A periodic check for inactivity to mark sessions as abandoned.
func (hs *HistorianService) Run() {
	database.ConnectDB()

	go hs.readRedisLoop()
	go hs.inactivityLoop()

	log.Println("arcadia-historian service started.")
	<-hs.ctx.Done()
	log.Println("arcadia-historian shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve records from the Redis queue.
func (hs *HistorianService) readRedisLoop() {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("HISTORIAN_QUEUE_NAME", cache.DefaultQueueName)

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			hs.flushBatchToDB()

		default:
			// BLPop with a 3-second timeout so context cancellation is handled.
			res, err := hs.redisClient.BLPop(hs.ctx, 3*time.Second, queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.ActivityRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid activity record: %v\n", err)
				continue
			}

			hs.lastActivity.Store(record.SessionID, time.Now())
			hs.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record to the in-memory batch and flushes if the threshold is reached.
func (hs *HistorianService) appendToBatch(record cache.ActivityRecord) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()

	hs.batch = append(hs.batch, record)
	if len(hs.batch) >= hs.batchSize {
		hs.flushLocked()
	}
}

// flushBatchToDB flushes the current batch to the database in a single transaction.
func (hs *HistorianService) flushBatchToDB() {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.flushLocked()
}

func (hs *HistorianService) flushLocked() {
	if len(hs.batch) == 0 {
		return
	}
	batchCopy := make([]cache.ActivityRecord, len(hs.batch))
	copy(batchCopy, hs.batch)
	hs.batch = hs.batch[:0]

	ctx := context.Background()
	err := beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batchCopy {
			if err := insertActivityTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertActivityTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flush batch: %v\n", err)
	} else {
		log.Printf("Flushed %d activity records to DB.\n", len(batchCopy))
	}
}

// inactivityLoop periodically checks whether any session has been inactive
// beyond the configured threshold and marks such sessions abandoned.
func (hs *HistorianService) inactivityLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			hs.lastActivity.Range(func(key, val interface{}) bool {
				sessionID, ok1 := key.(uuid.UUID)
				last, ok2 := val.(time.Time)
				if ok1 && ok2 && now.Sub(last) > hs.inactivity {
					hs.markSessionAbandoned(sessionID)
					hs.lastActivity.Delete(sessionID)
				}
				return true
			})
		}
	}
}

// markSessionAbandoned marks a session 'abandoned' if it is still 'active'.
func (hs *HistorianService) markSessionAbandoned(sessionID uuid.UUID) {
	ctx := context.Background()
	err := beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE bingo_sessions
			SET status = 'abandoned', updated_at = NOW()
			WHERE id = $1 AND status = 'active'
		`
		_, e := tx.Exec(ctx, q, sessionID)
		return e
	})
	if err != nil {
		log.Printf("failed to mark session %v abandoned: %v", sessionID, err)
	} else {
		log.Printf("Marked session %v as 'abandoned' due to inactivity.", sessionID)
	}
}

// insertActivityTx inserts one activity record, upserting the session's status
// back to 'active' since any activity means the session is live.
func insertActivityTx(ctx context.Context, tx pgx.Tx, rec cache.ActivityRecord) error {
	reviveQ := `
		UPDATE bingo_sessions
		SET status = 'active', updated_at = NOW()
		WHERE id = $1 AND status = 'abandoned'
	`
	if _, err := tx.Exec(ctx, reviveQ, rec.SessionID); err != nil {
		return err
	}

	insertQ := `
		INSERT INTO session_activity (session_id, user_id, kind, version, occurred_at)
		VALUES ($1, $2, $3, $4, to_timestamp($5 / 1000.0))
	`
	_, err := tx.Exec(ctx, insertQ,
		rec.SessionID, rec.UserID, rec.Kind, rec.Version, rec.Timestamp,
	)
	return err
}

// beginTxFunc starts a transaction on the pool, calls f, and commits or rolls
// back as needed.
func beginTxFunc(ctx context.Context, pool *pgxpool.Pool, txOptions pgx.TxOptions, f func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Stop gracefully stops the historian service.
func (hs *HistorianService) Stop() {
	hs.cancelFn()
}

func main() {
	hs := NewHistorianService()
	go hs.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	hs.Stop()
	log.Println("Historian shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer from an environment variable or returns a default.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
