package wordstash

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ReconcileRecord is one journal line: every reconcile appends exactly
// one, success or failure.
type ReconcileRecord struct {
	TraceID      string        `json:"traceId"`
	Word         string        `json:"word"`
	DedupKey     string        `json:"dedupKey,omitempty"`
	Language     string        `json:"language,omitempty"`
	PartOfSpeech string        `json:"partOfSpeech,omitempty"`
	Status       string        `json:"status"`
	Step         string        `json:"step,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"durationMs"`
	CreatedAt    time.Time     `json:"createdAt"`
}

const StatusFailed = "failed"

type Journal interface {
	Append(ctx context.Context, record ReconcileRecord) error
	Recent(ctx context.Context, limit int) ([]ReconcileRecord, error)
	Close() error
}

const inMemoryJournalCap = 500

type InMemoryJournal struct {
	mu      sync.Mutex
	records []ReconcileRecord
}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{}
}

func (j *InMemoryJournal) Append(ctx context.Context, record ReconcileRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
	if len(j.records) > inMemoryJournalCap {
		j.records = j.records[len(j.records)-inMemoryJournalCap:]
	}
	return nil
}

func (j *InMemoryJournal) Recent(ctx context.Context, limit int) ([]ReconcileRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.records) {
		limit = len(j.records)
	}
	out := make([]ReconcileRecord, 0, limit)
	for i := len(j.records) - 1; i >= len(j.records)-limit; i-- {
		out = append(out, j.records[i])
	}
	return out, nil
}

func (j *InMemoryJournal) Close() error {
	return nil
}

// OpenJournal selects a journal backend by DSN scheme. An empty DSN
// falls back to the in-memory backend.
func OpenJournal(dsn string) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryJournal(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "", "memory", "mem", "inmem":
		return NewInMemoryJournal(), nil
	case "postgres", "postgresql":
		return NewPostgresJournal(dsn)
	default:
		return nil, fmt.Errorf("unsupported journal backend scheme: %s", parsed.Scheme)
	}
}
