package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartJournalCleaner deletes journal rows older than retention every interval
// until ctx is cancelled.
func StartJournalCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				res, err := db.ExecContext(ctx, `
                    DELETE FROM collection_transitions
                     WHERE created_at < $1
                `, cutoff)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error("failed to clean journal", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("cleaned journal", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
