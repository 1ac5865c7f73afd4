package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wordstash/wordstash/internal/wordstash"
)

type fakeEngine struct {
	lastReq wordstash.ReconcileRequest
	result  *wordstash.ReconcileResult
	err     error
}

func (f *fakeEngine) Reconcile(ctx context.Context, req wordstash.ReconcileRequest) (*wordstash.ReconcileResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDirectory struct {
	entries     []wordstash.Entry
	entry       *wordstash.Entry
	listFilter  wordstash.ListFilter
	learnedID   string
	learnedVal  bool
	deckName    string
	deckPageIDs []string
	removed     bool
	summary     map[string]wordstash.DeckStats
	err         error
}

func (f *fakeDirectory) ListEntries(ctx context.Context, filter wordstash.ListFilter) ([]wordstash.Entry, error) {
	f.listFilter = filter
	return f.entries, f.err
}

func (f *fakeDirectory) GetEntry(ctx context.Context, entryID string) (*wordstash.Entry, error) {
	return f.entry, f.err
}

func (f *fakeDirectory) SetLearned(ctx context.Context, entryID string, learned bool) error {
	f.learnedID = entryID
	f.learnedVal = learned
	return f.err
}

func (f *fakeDirectory) AddToDecks(ctx context.Context, entryIDs []string, deckName string) error {
	f.deckPageIDs = entryIDs
	f.deckName = deckName
	return f.err
}

func (f *fakeDirectory) RemoveFromDeck(ctx context.Context, entryIDs []string, deckName string) error {
	f.deckPageIDs = entryIDs
	f.deckName = deckName
	f.removed = true
	return f.err
}

func (f *fakeDirectory) DeckSummary(ctx context.Context) (map[string]wordstash.DeckStats, error) {
	return f.summary, f.err
}

func newTestServer(engine *fakeEngine, directory *fakeDirectory, cfg ServerConfig) *Server {
	if engine == nil {
		engine = &fakeEngine{result: &wordstash.ReconcileResult{Status: wordstash.StatusAdded}}
	}
	if directory == nil {
		directory = &fakeDirectory{}
	}
	return NewServer(engine, directory, wordstash.NewInMemoryJournal(), wordstash.NewEventHub(), cfg, nil)
}

func doJSON(t *testing.T, server *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthBypassesAuth(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{APIToken: "secret"})
	resp := doJSON(t, server, http.MethodGet, "/health", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{APIToken: "secret"})
	resp := doJSON(t, server, http.MethodGet, "/v1/words", nil, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["code"] != "unauthorized" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestAuthRejectsWrongToken(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{APIToken: "secret"})
	resp := doJSON(t, server, http.MethodGet, "/v1/words", nil, map[string]string{"Authorization": "Bearer wrong"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthAcceptsQueryTokenFallback(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{APIToken: "secret"})
	resp := doJSON(t, server, http.MethodGet, "/v1/words?token=secret", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", resp.Code)
	}
}

func TestReconcileHappyPath(t *testing.T) {
	engine := &fakeEngine{result: &wordstash.ReconcileResult{
		Status:   wordstash.StatusAdded,
		DedupKey: "pt|trabalhar",
		EntryID:  "page_1",
		TraceID:  "trace-1",
	}}
	server := newTestServer(engine, nil, ServerConfig{})

	resp := doJSON(t, server, http.MethodPost, "/v1/words",
		map[string]string{"word": "trabalhar", "languageHint": "pt", "context": "eu gosto de trabalhar"}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result wordstash.ReconcileResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != wordstash.StatusAdded || result.DedupKey != "pt|trabalhar" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if engine.lastReq.LanguageHint != wordstash.LanguagePortuguese {
		t.Fatalf("hint not forwarded: %+v", engine.lastReq)
	}
	if engine.lastReq.Context != "eu gosto de trabalhar" {
		t.Fatalf("context not forwarded: %+v", engine.lastReq)
	}
}

func TestReconcileRejectsMissingWord(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{})
	resp := doJSON(t, server, http.MethodPost, "/v1/words", map[string]string{"word": "  "}, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestReconcileRejectsUnsupportedHint(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{})
	resp := doJSON(t, server, http.MethodPost, "/v1/words",
		map[string]string{"word": "дом", "languageHint": "ru"}, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ru hint, got %d", resp.Code)
	}
}

func TestReconcileErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{
			"invalid input",
			&wordstash.ReconciliationError{Step: wordstash.StepStart, Kind: wordstash.KindInvalidInput, Err: wordstash.ErrInvalidInput},
			http.StatusBadRequest, wordstash.KindInvalidInput,
		},
		{
			"ambiguous language",
			&wordstash.ReconciliationError{Step: wordstash.StepComputeKey, Kind: wordstash.KindAmbiguousLanguage, Err: wordstash.ErrAmbiguousLanguage},
			http.StatusUnprocessableEntity, wordstash.KindAmbiguousLanguage,
		},
		{
			"analysis unavailable",
			&wordstash.ReconciliationError{Step: wordstash.StepAnalyze, Kind: wordstash.KindAnalysisUnavailable, Err: wordstash.ErrAnalysisUnavailable},
			http.StatusBadGateway, wordstash.KindAnalysisUnavailable,
		},
		{
			"store unavailable",
			&wordstash.ReconciliationError{Step: wordstash.StepLookup, Kind: wordstash.KindStoreUnavailable, Err: wordstash.ErrStoreUnavailable},
			http.StatusServiceUnavailable, wordstash.KindStoreUnavailable,
		},
		{
			"data corruption",
			&wordstash.ReconciliationError{Step: wordstash.StepLookup, Kind: wordstash.KindDataCorruption, Err: &wordstash.DataCorruptionError{DedupKey: "pt|casa", Matches: 2}},
			http.StatusInternalServerError, wordstash.KindDataCorruption,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(&fakeEngine{err: tc.err}, nil, ServerConfig{})
			resp := doJSON(t, server, http.MethodPost, "/v1/words", map[string]string{"word": "casa"}, nil)
			if resp.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.Code)
			}
			var body map[string]any
			_ = json.Unmarshal(resp.Body.Bytes(), &body)
			if body["errorKind"] != tc.wantKind {
				t.Fatalf("expected kind %q, got %v", tc.wantKind, body["errorKind"])
			}
			if body["step"] == "" || body["step"] == nil {
				t.Fatalf("expected step tag in error body: %v", body)
			}
		})
	}
}

func TestListWordsForwardsFilters(t *testing.T) {
	directory := &fakeDirectory{entries: []wordstash.Entry{{ID: "page_1", Headword: "casa"}}}
	server := newTestServer(nil, directory, ServerConfig{})

	resp := doJSON(t, server, http.MethodGet, "/v1/words?language=Portuguese&typo=Verbo&search=casa&limit=5", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	want := wordstash.ListFilter{Language: "Portuguese", Typo: "Verbo", Search: "casa", Limit: 5}
	if directory.listFilter != want {
		t.Fatalf("filter mismatch: got %+v want %+v", directory.listFilter, want)
	}
}

func TestListWordsEmptyResultIsArray(t *testing.T) {
	server := newTestServer(nil, &fakeDirectory{}, ServerConfig{})
	resp := doJSON(t, server, http.MethodGet, "/v1/words", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.HasPrefix(strings.TrimSpace(resp.Body.String()), "[") {
		t.Fatalf("expected a JSON array, got %s", resp.Body.String())
	}
}

func TestGetWordNotFound(t *testing.T) {
	server := newTestServer(nil, &fakeDirectory{}, ServerConfig{})
	resp := doJSON(t, server, http.MethodGet, "/v1/words/page_missing", nil, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetWordFound(t *testing.T) {
	directory := &fakeDirectory{entry: &wordstash.Entry{ID: "page_1", Headword: "casa"}}
	server := newTestServer(nil, directory, ServerConfig{})
	resp := doJSON(t, server, http.MethodGet, "/v1/words/page_1", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var entry wordstash.Entry
	if err := json.Unmarshal(resp.Body.Bytes(), &entry); err != nil || entry.ID != "page_1" {
		t.Fatalf("unexpected entry: %+v err=%v", entry, err)
	}
}

func TestSetLearnedDefaultsTrue(t *testing.T) {
	directory := &fakeDirectory{}
	server := newTestServer(nil, directory, ServerConfig{})
	resp := doJSON(t, server, http.MethodPost, "/v1/words/page_1/learned", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if directory.learnedID != "page_1" || !directory.learnedVal {
		t.Fatalf("expected learned=true for page_1, got %+v", directory)
	}
}

func TestSetLearnedExplicitFalse(t *testing.T) {
	directory := &fakeDirectory{}
	server := newTestServer(nil, directory, ServerConfig{})
	resp := doJSON(t, server, http.MethodPost, "/v1/words/page_1/learned", map[string]bool{"learned": false}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if directory.learnedVal {
		t.Fatalf("expected learned=false")
	}
}

func TestDeckMembershipValidation(t *testing.T) {
	server := newTestServer(nil, &fakeDirectory{}, ServerConfig{})

	resp := doJSON(t, server, http.MethodPost, "/v1/decks/add",
		map[string]any{"deckName": "", "notionPageIds": []string{"page_1"}}, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing deckName, got %d", resp.Code)
	}

	resp = doJSON(t, server, http.MethodPost, "/v1/decks/add",
		map[string]any{"deckName": "travel", "notionPageIds": []string{}}, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty page ids, got %d", resp.Code)
	}
}

func TestDeckAddAndRemoveRouting(t *testing.T) {
	directory := &fakeDirectory{}
	server := newTestServer(nil, directory, ServerConfig{})

	resp := doJSON(t, server, http.MethodPost, "/v1/decks/add",
		map[string]any{"deckName": "travel", "notionPageIds": []string{"page_1", "page_2"}}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if directory.deckName != "travel" || len(directory.deckPageIDs) != 2 || directory.removed {
		t.Fatalf("unexpected add call: %+v", directory)
	}

	resp = doJSON(t, server, http.MethodPost, "/v1/decks/remove",
		map[string]any{"deckName": "travel", "notionPageIds": []string{"page_1"}}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !directory.removed {
		t.Fatalf("expected remove routing")
	}
}

func TestDeckSummary(t *testing.T) {
	directory := &fakeDirectory{summary: map[string]wordstash.DeckStats{
		"travel": {Total: 3, Learned: 1},
	}}
	server := newTestServer(nil, directory, ServerConfig{})
	resp := doJSON(t, server, http.MethodGet, "/v1/decks/summary", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary map[string]wordstash.DeckStats
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["travel"].Total != 3 || summary["travel"].Learned != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestJournalRecentEndpoint(t *testing.T) {
	journal := wordstash.NewInMemoryJournal()
	_ = journal.Append(context.Background(), wordstash.ReconcileRecord{TraceID: "trace-1", Status: wordstash.StatusAdded})
	server := NewServer(&fakeEngine{}, &fakeDirectory{}, journal, wordstash.NewEventHub(), ServerConfig{}, nil)

	resp := doJSON(t, server, http.MethodGet, "/v1/journal/recent?limit=10", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var records []wordstash.ReconcileRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 || records[0].TraceID != "trace-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestJournalRecentRejectsBadLimit(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{})
	resp := doJSON(t, server, http.MethodGet, "/v1/journal/recent?limit=-1", nil, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{})
	resp := doJSON(t, server, http.MethodGet, "/v1/unknown", nil, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	server := newTestServer(nil, nil, ServerConfig{MaxBodyBytes: 64})
	payload := map[string]string{"word": strings.Repeat("a", 256)}
	resp := doJSON(t, server, http.MethodPost, "/v1/words", payload, nil)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}
