// Package repository provides persistence implementations for the
// collection lifecycle journal using a PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/firewatch/internal/models"
	"github.com/lib/pq"
)

// PostgresJournalRepository stores collection state transitions in PostgreSQL.
type PostgresJournalRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresJournalRepository creates a new PostgresJournalRepository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance.
func NewPostgresJournalRepository(db *sql.DB) *PostgresJournalRepository {
	return &PostgresJournalRepository{DB: db}
}

// Append inserts entries within a single transaction.
//
//	ctx:     context for cancellation and deadlines
//	entries: transitions to store; each must carry an ID
//
// Returns an error if any insert or the commit fails.
func (r *PostgresJournalRepository) Append(ctx context.Context, entries []models.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO collection_transitions
				(id, collection, from_phase, to_phase, documents, error_kind, error_message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.ID, e.Collection, e.From, e.To, e.Documents,
			nullString(e.ErrorKind), nullString(e.ErrorMessage), e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to limit newest entries for the given collections,
// newest first.
//
//	ctx:         context for cancellation and deadlines
//	collections: collection names to include
//	limit:       maximum number of rows
func (r *PostgresJournalRepository) Recent(ctx context.Context, collections []string, limit int) ([]models.JournalEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, collection, from_phase, to_phase, documents, error_kind, error_message, created_at
		FROM collection_transitions
		WHERE collection = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, pq.Array(collections), limit)
	if err != nil {
		return nil, fmt.Errorf("Recent: %w", err)
	}
	defer rows.Close()

	entries := []models.JournalEntry{}
	for rows.Next() {
		var (
			e         models.JournalEntry
			kind, msg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Collection, &e.From, &e.To, &e.Documents, &kind, &msg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.ErrorKind = kind.String
		e.ErrorMessage = msg.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Recent: %w", err)
	}
	return entries, nil
}

// DeleteCollections removes every entry of the given collections.
func (r *PostgresJournalRepository) DeleteCollections(ctx context.Context, collections []string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM collection_transitions WHERE collection = ANY($1)`,
		pq.Array(collections),
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
