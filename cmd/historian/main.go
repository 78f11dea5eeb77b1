// cmd/historian/main.go is an asynchronous historian service that pops
// finished-match records from a Redis queue and persists them to a
// PostgreSQL database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/tmchess/tmchess/internal/cache"
	"github.com/tmchess/tmchess/internal/config"
	"github.com/tmchess/tmchess/internal/database"
)

// HistorianService drains the match queue, accumulating records in
// memory and flushing them to Postgres in batches.
type HistorianService struct {
	redisClient *redis.Client
	batchSize   int
	flushDelay  time.Duration

	batchMu  sync.Mutex
	batch    []cache.MatchRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewHistorianService constructs a HistorianService from environment
// variables or defaults.
func NewHistorianService(redisAddr string, redisDB int) *HistorianService {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &HistorianService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]cache.MatchRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run starts the queue reader and blocks until Stop is called.
func (hs *HistorianService) Run() {
	go hs.readRedisLoop()

	log.Println("tmchess-historian service started.")
	<-hs.ctx.Done()
	hs.flushBatchToDB()
	log.Println("tmchess-historian shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve records from the
// match queue, flushing on a timer as well as on batch-size pressure.
func (hs *HistorianService) readRedisLoop() {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			hs.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is
			// noticed promptly.
			res, err := hs.redisClient.BLPop(hs.ctx, 3*time.Second, cache.MatchQueueName).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && hs.ctx.Err() == nil {
					log.Printf("[ERROR] BLPop: %v", err)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.MatchRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid match record: %v", err)
				continue
			}
			hs.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record and flushes when the threshold is hit.
func (hs *HistorianService) appendToBatch(record cache.MatchRecord) {
	hs.batchMu.Lock()
	n := len(hs.batch)
	hs.batch = append(hs.batch, record)
	hs.batchMu.Unlock()

	if n+1 >= hs.batchSize {
		hs.flushBatchToDB()
	}
}

// flushBatchToDB writes the current batch in a single transaction.
func (hs *HistorianService) flushBatchToDB() {
	hs.batchMu.Lock()
	if len(hs.batch) == 0 {
		hs.batchMu.Unlock()
		return
	}
	batchCopy := make([]cache.MatchRecord, len(hs.batch))
	copy(batchCopy, hs.batch)
	hs.batch = hs.batch[:0]
	hs.batchMu.Unlock()

	if err := database.InsertMatches(context.Background(), batchCopy); err != nil {
		log.Printf("[ERROR] flushBatchToDB: %v", err)
		return
	}
	log.Printf("Flushed %d matches to DB.", len(batchCopy))
}

// Stop gracefully stops the historian service.
func (hs *HistorianService) Stop() {
	hs.cancelFn()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	if err := database.Connect(ctx, cfg.PostgresURL()); err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	hs := NewHistorianService(cfg.RedisAddr, cfg.RedisDB)
	go hs.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	hs.Stop()
	log.Println("Historian shutdown complete.")
}

// getEnvInt reads an integer environment variable with a default.
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
