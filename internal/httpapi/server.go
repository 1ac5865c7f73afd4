package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wordstash/wordstash/internal/wordstash"
)

// Reconciler is the engine's public surface as the HTTP layer sees it.
type Reconciler interface {
	Reconcile(ctx context.Context, req wordstash.ReconcileRequest) (*wordstash.ReconcileResult, error)
}

// EntryDirectory covers the browse/study reads and the collaborator
// write paths (learned flag, deck membership) that live outside the
// engine's fill-only-empty discipline.
type EntryDirectory interface {
	ListEntries(ctx context.Context, filter wordstash.ListFilter) ([]wordstash.Entry, error)
	GetEntry(ctx context.Context, entryID string) (*wordstash.Entry, error)
	SetLearned(ctx context.Context, entryID string, learned bool) error
	AddToDecks(ctx context.Context, entryIDs []string, deckName string) error
	RemoveFromDeck(ctx context.Context, entryIDs []string, deckName string) error
	DeckSummary(ctx context.Context) (map[string]wordstash.DeckStats, error)
}

type ServerConfig struct {
	// APIToken guards every /v1 route; empty disables the gate.
	APIToken     string
	MaxBodyBytes int64
}

type Server struct {
	engine    Reconciler
	directory EntryDirectory
	journal   wordstash.Journal
	events    *wordstash.EventHub
	cfg       ServerConfig
	logger    *zap.Logger
}

func NewServer(engine Reconciler, directory EntryDirectory, journal wordstash.Journal, events *wordstash.EventHub, cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    engine,
		directory: directory,
		journal:   journal,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if authErr := authorize(r, s.cfg.APIToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	switch {
	case r.URL.Path == "/v1/words" && r.Method == http.MethodPost:
		s.handleReconcile(w, r)
	case r.URL.Path == "/v1/words" && r.Method == http.MethodGet:
		s.handleListWords(w, r)
	case r.URL.Path == "/v1/decks/add" && r.Method == http.MethodPost:
		s.handleDeckMembership(w, r, s.directory.AddToDecks)
	case r.URL.Path == "/v1/decks/remove" && r.Method == http.MethodPost:
		s.handleDeckMembership(w, r, s.directory.RemoveFromDeck)
	case r.URL.Path == "/v1/decks/summary" && r.Method == http.MethodGet:
		s.handleDeckSummary(w, r)
	case r.URL.Path == "/v1/journal/recent" && r.Method == http.MethodGet:
		s.handleJournalRecent(w, r)
	case r.URL.Path == "/v1/events" && r.Method == http.MethodGet:
		s.handleEvents(w, r)
	default:
		s.routeWordByID(w, r)
	}
}

func (s *Server) routeWordByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "words" && r.Method == http.MethodGet:
		s.handleGetWord(w, r, parts[2])
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "words" && parts[3] == "learned" && r.Method == http.MethodPost:
		s.handleSetLearned(w, r, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

type reconcileRequestBody struct {
	Word         string `json:"word"`
	LanguageHint string `json:"languageHint"`
	Context      string `json:"context"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req reconcileRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if strings.TrimSpace(req.Word) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "word is required")
		return
	}
	var hint wordstash.Language
	if strings.TrimSpace(req.LanguageHint) != "" {
		parsed, valid := wordstash.ParseLanguage(req.LanguageHint)
		if !valid || !parsed.Supported() {
			writeError(w, http.StatusBadRequest, "bad_request", "languageHint must be pt or en")
			return
		}
		hint = parsed
	}

	result, err := s.engine.Reconcile(r.Context(), wordstash.ReconcileRequest{
		Word:         req.Word,
		LanguageHint: hint,
		Context:      req.Context,
	})
	if err != nil {
		s.writeReconcileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeReconcileError maps the engine's step-tagged failure onto an HTTP
// status, preserving step and errorKind so clients never have to parse
// free-text messages.
func (s *Server) writeReconcileError(w http.ResponseWriter, err error) {
	var rerr *wordstash.ReconciliationError
	if !errors.As(err, &rerr) {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch rerr.Kind {
	case wordstash.KindInvalidInput:
		status = http.StatusBadRequest
	case wordstash.KindAmbiguousLanguage:
		status = http.StatusUnprocessableEntity
	case wordstash.KindAnalysisUnavailable, wordstash.KindAnalysisMalformed, wordstash.KindAnalysisIncomplete:
		status = http.StatusBadGateway
	case wordstash.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"error":     rerr.Err.Error(),
		"step":      rerr.Step,
		"errorKind": rerr.Kind,
	})
}

func (s *Server) handleListWords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	entries, err := s.directory.ListEntries(r.Context(), wordstash.ListFilter{
		Language: query.Get("language"),
		Typo:     query.Get("typo"),
		Search:   query.Get("search"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "store_error", err.Error())
		return
	}
	if entries == nil {
		entries = []wordstash.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetWord(w http.ResponseWriter, r *http.Request, entryID string) {
	entry, err := s.directory.GetEntry(r.Context(), entryID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "store_error", err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "not_found", "word not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type learnedRequestBody struct {
	Learned *bool `json:"learned"`
}

func (s *Server) handleSetLearned(w http.ResponseWriter, r *http.Request, entryID string) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	learned := true
	if len(body) > 0 {
		var req learnedRequestBody
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
		if req.Learned != nil {
			learned = *req.Learned
		}
	}
	if err := s.directory.SetLearned(r.Context(), entryID, learned); err != nil {
		writeError(w, http.StatusBadGateway, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type deckMembershipBody struct {
	DeckName string   `json:"deckName"`
	PageIDs  []string `json:"notionPageIds"`
}

func (s *Server) handleDeckMembership(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, entryIDs []string, deckName string) error) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req deckMembershipBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if strings.TrimSpace(req.DeckName) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "deckName is required")
		return
	}
	if len(req.PageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "notionPageIds array is required")
		return
	}
	if err := apply(r.Context(), req.PageIDs, req.DeckName); err != nil {
		writeError(w, http.StatusBadGateway, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeckSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.directory.DeckSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleJournalRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal_error", err.Error())
		return
	}
	if records == nil {
		records = []wordstash.ReconcileRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
