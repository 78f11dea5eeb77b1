// Package cache holds the process-wide Redis client. It backs the
// mappack track-list cache and the finished-match queue consumed by the
// historian service. The server runs fine without it; callers must
// treat a nil Rdb as "no cache, no queue".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// MatchQueueName is the Redis list the historian drains.
const MatchQueueName = "tmchess_matches"

// MatchRecord is one finished session, as queued for the historian.
type MatchRecord struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Reason    string `json:"reason"`
	Winner    string `json:"winner"`
	WhiteID   string `json:"white_id,omitempty"`
	BlackID   string `json:"black_id,omitempty"`
	FinalFEN  string `json:"final_fen"`
	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at"`
}

// Connect initializes the global Redis client and verifies connectivity.
func Connect(addr string, db int) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		Rdb = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishMatchResult serializes the record and pushes it onto the match
// queue. No-op without a connected client.
func PublishMatchResult(ctx context.Context, record MatchRecord) error {
	if Rdb == nil {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchRecord: %w", err)
	}
	if err := Rdb.RPush(ctx, MatchQueueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", MatchQueueName, err)
	}
	return nil
}
