package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tmchess/tmchess/internal/cache"
)

// InsertMatchTx writes one finished-match record inside tx.
func InsertMatchTx(ctx context.Context, tx pgx.Tx, rec cache.MatchRecord) error {
	q := `
		INSERT INTO matches (session_id, mode, reason, winner, white_id, black_id, final_fen, started_at, ended_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)`
	_, err := tx.Exec(ctx, q,
		rec.SessionID, rec.Mode, rec.Reason, rec.Winner,
		rec.WhiteID, rec.BlackID, rec.FinalFEN,
		time.UnixMilli(rec.StartedAt), time.UnixMilli(rec.EndedAt))
	if err != nil {
		return fmt.Errorf("insert match %s: %w", rec.SessionID, err)
	}
	return nil
}

// InsertMatches writes a batch of records in a single transaction.
func InsertMatches(ctx context.Context, recs []cache.MatchRecord) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			if err := InsertMatchTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
