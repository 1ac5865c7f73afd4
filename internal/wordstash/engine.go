package wordstash

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReconcileRequest struct {
	Word string
	// LanguageHint is optional; it becomes mandatory only when analysis
	// detects the ambiguous source language.
	LanguageHint Language
	// Context is an optional example sentence stored alongside the entry.
	Context string
}

const (
	StatusAdded     = "added"
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
)

type ReconcileResult struct {
	Status        string       `json:"status"`
	DedupKey      string       `json:"dedupKey"`
	FinalHeadword string       `json:"finalHeadword"`
	FinalLanguage Language     `json:"finalLanguage"`
	PartOfSpeech  PartOfSpeech `json:"partOfSpeech"`
	EntryID       string       `json:"entryId"`
	TraceID       string       `json:"traceId"`
	UpdatedFields []string     `json:"updatedFields,omitempty"`
}

type EngineOptions struct {
	Analyzer Analyzer
	Store    EntryStore
	Journal  Journal
	Events   *EventHub
	Logger   *zap.Logger
}

// Engine runs the reconciliation pipeline: analyze the raw word, derive
// the canonical dedup key, look the entry up, then create it or fill its
// empty fields. One reconcile is a strict sequential pipeline; distinct
// reconciles run independently. The only shared state is the memoized
// schema check and the per-key locks.
type Engine struct {
	analyzer Analyzer
	store    EntryStore
	journal  Journal
	events   *EventHub
	logger   *zap.Logger

	schemaOnce sync.Once
	schemaErr  error

	keyLocks keyedLocks
}

func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	journal := opts.Journal
	if journal == nil {
		journal = NewInMemoryJournal()
	}
	events := opts.Events
	if events == nil {
		events = NewEventHub()
	}
	return &Engine{
		analyzer: opts.Analyzer,
		store:    opts.Store,
		journal:  journal,
		events:   events,
		logger:   logger,
		keyLocks: keyedLocks{locks: map[string]*keyLock{}},
	}
}

func (e *Engine) Journal() Journal {
	return e.journal
}

func (e *Engine) Events() *EventHub {
	return e.events
}

// Reconcile is the engine's single public operation. Every error leaving
// it is a *ReconciliationError tagged with the step it occurred in.
func (e *Engine) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	e.ensureSchema(ctx)

	traceID := uuid.NewString()
	started := time.Now()
	logger := e.logger.With(zap.String("trace_id", traceID))

	result, rerr := e.reconcile(ctx, logger, req)

	record := ReconcileRecord{
		TraceID:   traceID,
		Word:      strings.TrimSpace(req.Word),
		Duration:  time.Since(started),
		CreatedAt: time.Now().UTC(),
	}
	if rerr != nil {
		record.Status = StatusFailed
		record.Step = rerr.Step
		record.Error = rerr.Error()
		logger.Error("reconcile failed",
			zap.String("step", rerr.Step),
			zap.String("error_kind", rerr.Kind),
			zap.Error(rerr.Err))
	} else {
		result.TraceID = traceID
		record.Status = result.Status
		record.DedupKey = result.DedupKey
		record.Language = string(result.FinalLanguage)
		record.PartOfSpeech = string(result.PartOfSpeech)
		logger.Info("reconcile done",
			zap.String("status", result.Status),
			zap.String("dedup_key", result.DedupKey),
			zap.String("entry_id", result.EntryID),
			zap.Strings("updated_fields", result.UpdatedFields))
	}
	if err := e.journal.Append(ctx, record); err != nil {
		logger.Warn("journal append failed", zap.Error(err))
	}
	e.events.Publish(record)

	if rerr != nil {
		return nil, rerr
	}
	return result, nil
}

func (e *Engine) reconcile(ctx context.Context, logger *zap.Logger, req ReconcileRequest) (*ReconcileResult, *ReconciliationError) {
	// start: validate input before any external call.
	trimmed := strings.TrimSpace(req.Word)
	if trimmed == "" {
		return nil, reconciliationError(StepStart, fmt.Errorf("%w: word is required", ErrInvalidInput))
	}
	if req.LanguageHint != "" && !req.LanguageHint.Supported() {
		return nil, reconciliationError(StepStart, fmt.Errorf("%w: language hint must be pt or en", ErrInvalidInput))
	}
	logger.Info("reconcile start", zap.String("word", trimmed), zap.String("hint", string(req.LanguageHint)))

	// analyze: transient failures are retried inside the client.
	analysis, err := e.analyzer.Analyze(ctx, trimmed, req.LanguageHint)
	if err != nil {
		return nil, reconciliationError(StepAnalyze, err)
	}
	logger.Info("analysis received",
		zap.String("detected_language", string(analysis.DetectedLanguage)),
		zap.String("pos", string(analysis.PartOfSpeech)),
		zap.String("lemma", analysis.Normalized.Lemma),
		zap.String("infinitive", analysis.Normalized.Infinitive),
		zap.Float64("confidence", analysis.Confidence))

	// computeKey: settle language and headword, derive the dedup key.
	var finalLanguage Language
	switch {
	case analysis.DetectedLanguage.Supported():
		finalLanguage = analysis.DetectedLanguage
	case analysis.DetectedLanguage == LanguageRussian:
		if req.LanguageHint == "" {
			return nil, reconciliationError(StepComputeKey, ErrAmbiguousLanguage)
		}
		finalLanguage = req.LanguageHint
	default:
		return nil, reconciliationError(StepComputeKey,
			fmt.Errorf("%w: unsupported detected language %q", ErrAnalysisIncomplete, analysis.DetectedLanguage))
	}

	finalHeadword := trimmed
	if analysis.PartOfSpeech == PartOfSpeechVerb && analysis.Normalized.Infinitive != "" {
		finalHeadword = analysis.Normalized.Infinitive
	} else if analysis.Normalized.Lemma != "" {
		finalHeadword = analysis.Normalized.Lemma
	}

	dedupKey := BuildKey(finalLanguage, finalHeadword)
	logger.Info("dedup key computed",
		zap.String("final_language", string(finalLanguage)),
		zap.String("final_headword", finalHeadword),
		zap.String("dedup_key", dedupKey))

	// Same-process duplicate-create mitigation: serialize reconciles per
	// dedup key. Cross-process races remain an accepted gap.
	unlock := e.keyLocks.acquire(dedupKey)
	defer unlock()

	// lookup: exact key match, then the legacy fallback scan.
	existing, err := e.store.FindByKey(ctx, dedupKey)
	if err != nil {
		return nil, reconciliationError(StepLookup, err)
	}
	if existing == nil {
		existing, err = e.store.FindByFallback(ctx, finalLanguage, Normalize(finalHeadword))
		if err != nil {
			return nil, reconciliationError(StepLookup, err)
		}
	}
	logger.Info("lookup done", zap.Bool("found_existing", existing != nil))

	result := &ReconcileResult{
		DedupKey:      dedupKey,
		FinalHeadword: finalHeadword,
		FinalLanguage: finalLanguage,
		PartOfSpeech:  analysis.PartOfSpeech,
	}

	// writeDecision / writeApply: create, or fill only the empty fields.
	if existing == nil {
		entryID, err := e.store.Create(ctx, dedupKey, finalHeadword, finalLanguage, analysis, req.Context)
		if err != nil {
			return nil, reconciliationError(StepWriteApply, err)
		}
		result.Status = StatusAdded
		result.EntryID = entryID
		return result, nil
	}

	updated, err := e.store.FillEmptyFields(ctx, existing.ID, finalLanguage, analysis, req.Context)
	if err != nil {
		return nil, reconciliationError(StepWriteApply, err)
	}
	result.EntryID = existing.ID
	result.UpdatedFields = updated
	if len(updated) > 0 {
		result.Status = StatusUpdated
	} else {
		result.Status = StatusUnchanged
	}
	return result, nil
}

// ensureSchema runs the store schema check once per process. A cached
// failure is logged but does not block reconciliation: a degraded schema
// should only fail the requests that actually hit the missing property.
func (e *Engine) ensureSchema(ctx context.Context) {
	e.schemaOnce.Do(func() {
		e.schemaErr = e.store.ValidateSchema(ctx)
		if e.schemaErr != nil {
			e.logger.Error("store schema validation failed; continuing without the gate", zap.Error(e.schemaErr))
		}
	})
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func (k *keyedLocks) acquire(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
