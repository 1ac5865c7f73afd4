package wordstash

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAmbiguousLanguage    = errors.New("ambiguous source language requires a language hint")
	ErrAnalysisUnavailable  = errors.New("analysis service unavailable")
	ErrAnalysisMalformed    = errors.New("analysis response malformed")
	ErrAnalysisIncomplete   = errors.New("analysis response incomplete")
	ErrStoreUnavailable     = errors.New("document store unavailable")
	ErrJournalNotConfigured = errors.New("journal backend not configured")
)

// Pipeline step tags, attached to every error leaving the engine.
const (
	StepStart         = "start"
	StepAnalyze       = "analyze"
	StepComputeKey    = "computeKey"
	StepLookup        = "lookup"
	StepWriteDecision = "writeDecision"
	StepWriteApply    = "writeApply"
)

const (
	KindInvalidInput        = "invalid_input"
	KindAmbiguousLanguage   = "ambiguous_language_requires_hint"
	KindAnalysisUnavailable = "analysis_unavailable"
	KindAnalysisMalformed   = "analysis_malformed"
	KindAnalysisIncomplete  = "analysis_incomplete"
	KindSchemaMismatch      = "schema_mismatch"
	KindDataCorruption      = "data_corruption"
	KindStoreUnavailable    = "store_unavailable"
	KindInternal            = "internal"
)

type SchemaMismatchError struct {
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("store schema missing required properties: %s", strings.Join(e.Missing, ", "))
}

type DataCorruptionError struct {
	DedupKey string
	Matches  int
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("data corruption: %d records share dedup key %q", e.Matches, e.DedupKey)
}

// ReconciliationError is the single wrapper crossing the engine boundary.
// Step names the pipeline stage the cause occurred in.
type ReconciliationError struct {
	Step string
	Kind string
	Err  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed at step %q: %v", e.Step, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

func reconciliationError(step string, err error) *ReconciliationError {
	return &ReconciliationError{Step: step, Kind: errorKind(err), Err: err}
}

func errorKind(err error) string {
	var corruption *DataCorruptionError
	var mismatch *SchemaMismatchError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrAmbiguousLanguage):
		return KindAmbiguousLanguage
	case errors.Is(err, ErrAnalysisUnavailable):
		return KindAnalysisUnavailable
	case errors.Is(err, ErrAnalysisMalformed):
		return KindAnalysisMalformed
	case errors.Is(err, ErrAnalysisIncomplete):
		return KindAnalysisIncomplete
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.As(err, &corruption):
		return KindDataCorruption
	case errors.As(err, &mismatch):
		return KindSchemaMismatch
	default:
		return KindInternal
	}
}
