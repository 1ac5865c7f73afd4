package wordstash

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresJournalTableName       = "wordstash_journal"
	postgresJournalOperationWindow = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresJournal struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrJournalNotConfigured
	}
	return &PostgresJournal{
		dsn:       dsn,
		tableName: postgresJournalTableName,
		openDB:    sql.Open,
	}, nil
}

func (j *PostgresJournal) Append(ctx context.Context, record ReconcileRecord) error {
	if err := j.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresJournalOperationWindow)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (trace_id, word, dedup_key, language, part_of_speech, status, step, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, postgresQuoteIdentifier(j.tableName))
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(opCtx, query,
		record.TraceID, record.Word, record.DedupKey, record.Language, record.PartOfSpeech,
		record.Status, record.Step, record.Error, record.Duration.Milliseconds(), createdAt)
	return err
}

func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]ReconcileRecord, error) {
	if err := j.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresJournalOperationWindow)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT trace_id, word, dedup_key, language, part_of_speech, status, step, error, duration_ms, created_at
		FROM %s ORDER BY id DESC LIMIT $1`, postgresQuoteIdentifier(j.tableName))
	rows, err := j.db.QueryContext(opCtx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ReconcileRecord
	for rows.Next() {
		var record ReconcileRecord
		var durationMS int64
		if err := rows.Scan(&record.TraceID, &record.Word, &record.DedupKey, &record.Language,
			&record.PartOfSpeech, &record.Status, &record.Step, &record.Error, &durationMS, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, record)
	}
	return records, rows.Err()
}

func (j *PostgresJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *PostgresJournal) ensureReady() error {
	j.initOnce.Do(func() {
		db, err := j.openDB("postgres", j.dsn)
		if err != nil {
			j.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresJournalOperationWindow)
		defer cancel()
		schema := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				trace_id TEXT NOT NULL,
				word TEXT NOT NULL,
				dedup_key TEXT NOT NULL DEFAULT '',
				language TEXT NOT NULL DEFAULT '',
				part_of_speech TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				step TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(j.tableName))
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			j.initErr = err
			return
		}
		j.db = db
	})
	return j.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
