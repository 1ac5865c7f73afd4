package wordstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EntryStore is the slice of the gateway the reconciliation engine
// depends on.
type EntryStore interface {
	ValidateSchema(ctx context.Context) error
	FindByKey(ctx context.Context, dedupKey string) (*Entry, error)
	FindByFallback(ctx context.Context, language Language, normalizedHeadword string) (*Entry, error)
	Create(ctx context.Context, dedupKey, headword string, language Language, analysis *LexicalAnalysis, contextText string) (string, error)
	FillEmptyFields(ctx context.Context, entryID string, language Language, analysis *LexicalAnalysis, contextText string) ([]string, error)
}

type ListFilter struct {
	Language string
	Typo     string
	Search   string
	Limit    int
}

type DeckStats struct {
	Total   int `json:"total"`
	Learned int `json:"learned"`
}

type NotionGatewayOptions struct {
	BaseURL          string
	Token            string
	DatabaseID       string
	HTTPClient       *http.Client
	APIVersion       string
	Retry            RetryPolicy
	FallbackScanSize int
	ListPageSize     int
	Logger           *zap.Logger
}

// HTTPNotionGateway is the typed façade over the Notion database holding
// vocabulary entries. Every call runs inside the retry envelope with the
// store classifier; a DataCorruption result is permanent and never
// retried.
type HTTPNotionGateway struct {
	baseURL          string
	token            string
	databaseID       string
	httpClient       *http.Client
	apiVersion       string
	retry            RetryPolicy
	fallbackScanSize int
	listPageSize     int
	logger           *zap.Logger
}

func NewHTTPNotionGateway(opts NotionGatewayOptions) *HTTPNotionGateway {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	fallbackScanSize := opts.FallbackScanSize
	if fallbackScanSize <= 0 {
		fallbackScanSize = 100
	}
	listPageSize := opts.ListPageSize
	if listPageSize <= 0 {
		listPageSize = 50
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPNotionGateway{
		baseURL:          baseURL,
		token:            opts.Token,
		databaseID:       opts.DatabaseID,
		httpClient:       httpClient,
		apiVersion:       apiVersion,
		retry:            opts.Retry,
		fallbackScanSize: fallbackScanSize,
		listPageSize:     listPageSize,
		logger:           logger,
	}
}

type notionAPIError struct {
	Status  int
	Code    string
	Message string
}

func (e *notionAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion request failed: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion request failed: status=%d message=%s", e.Status, e.Message)
}

func storeClassifier(err error) ErrorClass {
	if errors.Is(err, ErrStoreUnavailable) {
		return ClassTransient
	}
	return ClassPermanent
}

type databaseResponse struct {
	Properties map[string]json.RawMessage `json:"properties"`
}

type queryRequest struct {
	Filter   any         `json:"filter,omitempty"`
	Sorts    []querySort `json:"sorts,omitempty"`
	PageSize int         `json:"page_size,omitempty"`
}

type querySort struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}

type queryResponse struct {
	Results []notionPage `json:"results"`
}

type createPageRequest struct {
	Parent     pageParent               `json:"parent"`
	Properties map[string]propertyValue `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

type patchPageRequest struct {
	Properties map[string]propertyValue `json:"properties"`
}

// ValidateSchema confirms the database exposes at least the required
// property set. Callers memoize the result for the process lifetime;
// the gateway itself performs the check every time it is asked.
func (g *HTTPNotionGateway) ValidateSchema(ctx context.Context) error {
	_, err := withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (struct{}, error) {
		var db databaseResponse
		if err := g.do(ctx, http.MethodGet, "/v1/databases/"+g.databaseID, nil, &db); err != nil {
			return struct{}{}, err
		}
		var missing []string
		for _, name := range requiredProperties {
			if _, ok := db.Properties[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return struct{}{}, &SchemaMismatchError{Missing: missing}
		}
		return struct{}{}, nil
	})
	return err
}

// FindByKey looks an entry up by its dedup key. More than one match is a
// hard invariant violation surfaced as DataCorruption, never retried.
func (g *HTTPNotionGateway) FindByKey(ctx context.Context, dedupKey string) (*Entry, error) {
	return withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (*Entry, error) {
		var resp queryResponse
		req := queryRequest{
			Filter: map[string]any{
				"property":  propKey,
				"rich_text": map[string]any{"equals": dedupKey},
			},
			PageSize: 2,
		}
		if err := g.do(ctx, http.MethodPost, "/v1/databases/"+g.databaseID+"/query", req, &resp); err != nil {
			return nil, err
		}
		switch len(resp.Results) {
		case 0:
			return nil, nil
		case 1:
			entry := entryFromPage(resp.Results[0])
			return &entry, nil
		default:
			return nil, &DataCorruptionError{DedupKey: dedupKey, Matches: len(resp.Results)}
		}
	})
}

// FindByFallback is the migration safety net for legacy records whose
// Key property was never populated: scan one bounded page of candidates
// in the language and match on the re-normalized stored headword. A miss
// past the scan window reads as "not found"; page exhaustion is not
// paginated further.
func (g *HTTPNotionGateway) FindByFallback(ctx context.Context, language Language, normalizedHeadword string) (*Entry, error) {
	return withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (*Entry, error) {
		var resp queryResponse
		req := queryRequest{
			Filter: map[string]any{
				"property": propLanguage,
				"select":   map[string]any{"equals": language.Display()},
			},
			PageSize: g.fallbackScanSize,
		}
		if err := g.do(ctx, http.MethodPost, "/v1/databases/"+g.databaseID+"/query", req, &resp); err != nil {
			return nil, err
		}
		for _, page := range resp.Results {
			candidate := entryFromPage(page)
			if Normalize(candidate.Headword) == normalizedHeadword {
				return &candidate, nil
			}
		}
		return nil, nil
	})
}

// Create writes the full property set for a new entry and returns the
// page id the store assigned. Conjugation cells are included only for
// Portuguese verbs.
func (g *HTTPNotionGateway) Create(ctx context.Context, dedupKey, headword string, language Language, analysis *LexicalAnalysis, contextText string) (string, error) {
	properties := map[string]propertyValue{
		propWord:        titleProperty(headword),
		propKey:         textProperty(dedupKey),
		propLanguage:    selectProperty(language.Display()),
		propTypo:        selectProperty(analysis.PartOfSpeech.Display()),
		propTranslation: textProperty(analysis.Translation),
	}
	if contextText != "" {
		properties[propContext] = textProperty(contextText)
	}
	if language == LanguagePortuguese && analysis.PartOfSpeech == PartOfSpeechVerb {
		for column, value := range conjugationCells(analysis.Verb) {
			properties[column] = textProperty(value)
		}
	}

	return withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (string, error) {
		var page notionPage
		req := createPageRequest{
			Parent:     pageParent{DatabaseID: g.databaseID},
			Properties: properties,
		}
		if err := g.do(ctx, http.MethodPost, "/v1/pages", req, &page); err != nil {
			return "", err
		}
		return page.ID, nil
	})
}

// FillEmptyFields reads the current record and writes candidate values
// only into slots that are currently empty. Populated fields are never
// touched, so reconciling an already-filled entry is side-effect-free.
// Returns the names of the fields actually written.
func (g *HTTPNotionGateway) FillEmptyFields(ctx context.Context, entryID string, language Language, analysis *LexicalAnalysis, contextText string) ([]string, error) {
	page, err := g.retrievePage(ctx, entryID)
	if err != nil {
		return nil, err
	}
	props := page.Properties

	patch := map[string]propertyValue{}
	if analysis.Translation != "" && props[propTranslation].isEmpty(kindRichText) {
		patch[propTranslation] = textProperty(analysis.Translation)
	}
	if props[propTypo].isEmpty(kindSelect) {
		patch[propTypo] = selectProperty(analysis.PartOfSpeech.Display())
	}
	if contextText != "" && props[propContext].isEmpty(kindRichText) {
		patch[propContext] = textProperty(contextText)
	}

	currentLanguage := language.Display()
	if sel := props[propLanguage].Select; sel != nil && sel.Name != "" {
		currentLanguage = sel.Name
	}
	currentTypo := analysis.PartOfSpeech.Display()
	if sel := props[propTypo].Select; sel != nil && sel.Name != "" {
		currentTypo = sel.Name
	}
	if currentLanguage == "Portuguese" && currentTypo == "Verbo" {
		for column, value := range conjugationCells(analysis.Verb) {
			if props[column].isEmpty(kindRichText) {
				patch[column] = textProperty(value)
			}
		}
	}

	if len(patch) == 0 {
		return nil, nil
	}

	_, err = withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.do(ctx, http.MethodPatch, "/v1/pages/"+entryID, patchPageRequest{Properties: patch}, nil)
	})
	if err != nil {
		return nil, err
	}

	updated := make([]string, 0, len(patch))
	for name := range patch {
		updated = append(updated, name)
	}
	sort.Strings(updated)
	return updated, nil
}

// ListEntries returns the most recently created entries, optionally
// filtered by language and part of speech at the store and by substring
// search locally.
func (g *HTTPNotionGateway) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > g.listPageSize {
		limit = g.listPageSize
	}

	var conditions []any
	if filter.Language != "" {
		conditions = append(conditions, map[string]any{
			"property": propLanguage,
			"select":   map[string]any{"equals": filter.Language},
		})
	}
	if filter.Typo != "" {
		conditions = append(conditions, map[string]any{
			"property": propTypo,
			"select":   map[string]any{"equals": filter.Typo},
		})
	}
	var queryFilter any
	switch len(conditions) {
	case 0:
	case 1:
		queryFilter = conditions[0]
	default:
		queryFilter = map[string]any{"and": conditions}
	}

	pages, err := g.query(ctx, queryRequest{
		Filter:   queryFilter,
		Sorts:    []querySort{{Timestamp: "created_time", Direction: "descending"}},
		PageSize: limit,
	})
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	entries := make([]Entry, 0, len(pages))
	for _, page := range pages {
		entry := entryFromPage(page)
		if search != "" &&
			!strings.Contains(strings.ToLower(entry.Headword), search) &&
			!strings.Contains(strings.ToLower(entry.Translation), search) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetEntry returns nil without error when the page does not exist.
func (g *HTTPNotionGateway) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	page, err := g.retrievePage(ctx, entryID)
	if err != nil {
		var apiErr *notionAPIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	entry := entryFromPage(*page)
	return &entry, nil
}

// SetLearned flips the Learned checkbox. This write path belongs to the
// study collaborators and deliberately bypasses the fill-only-empty
// discipline: booleans are values, not fillable blanks.
func (g *HTTPNotionGateway) SetLearned(ctx context.Context, entryID string, learned bool) error {
	_, err := withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (struct{}, error) {
		patch := patchPageRequest{Properties: map[string]propertyValue{
			propLearned: checkboxProperty(learned),
		}}
		return struct{}{}, g.do(ctx, http.MethodPatch, "/v1/pages/"+entryID, patch, nil)
	})
	return err
}

// AddToDecks unions deckName into each page's Decks multi-select.
func (g *HTTPNotionGateway) AddToDecks(ctx context.Context, entryIDs []string, deckName string) error {
	for _, entryID := range entryIDs {
		page, err := g.retrievePage(ctx, entryID)
		if err != nil {
			return err
		}
		decks := []string{}
		present := false
		for _, option := range page.Properties[propDecks].MultiSelect {
			decks = append(decks, option.Name)
			if option.Name == deckName {
				present = true
			}
		}
		if present {
			continue
		}
		decks = append(decks, deckName)
		if err := g.patchDecks(ctx, entryID, decks); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromDeck drops deckName from each page's Decks multi-select.
func (g *HTTPNotionGateway) RemoveFromDeck(ctx context.Context, entryIDs []string, deckName string) error {
	for _, entryID := range entryIDs {
		page, err := g.retrievePage(ctx, entryID)
		if err != nil {
			return err
		}
		decks := []string{}
		present := false
		for _, option := range page.Properties[propDecks].MultiSelect {
			if option.Name == deckName {
				present = true
				continue
			}
			decks = append(decks, option.Name)
		}
		if !present {
			continue
		}
		if err := g.patchDecks(ctx, entryID, decks); err != nil {
			return err
		}
	}
	return nil
}

// DeckSummary aggregates total and learned counts per deck over one
// bounded page of recent entries.
func (g *HTTPNotionGateway) DeckSummary(ctx context.Context) (map[string]DeckStats, error) {
	pages, err := g.query(ctx, queryRequest{PageSize: g.fallbackScanSize})
	if err != nil {
		return nil, err
	}
	summary := map[string]DeckStats{}
	for _, page := range pages {
		entry := entryFromPage(page)
		for _, deck := range entry.Decks {
			stats := summary[deck]
			stats.Total++
			if entry.Learned {
				stats.Learned++
			}
			summary[deck] = stats
		}
	}
	return summary, nil
}

func (g *HTTPNotionGateway) patchDecks(ctx context.Context, entryID string, decks []string) error {
	_, err := withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (struct{}, error) {
		patch := patchPageRequest{Properties: map[string]propertyValue{
			propDecks: multiSelectProperty(decks),
		}}
		return struct{}{}, g.do(ctx, http.MethodPatch, "/v1/pages/"+entryID, patch, nil)
	})
	return err
}

func (g *HTTPNotionGateway) retrievePage(ctx context.Context, entryID string) (*notionPage, error) {
	return withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) (*notionPage, error) {
		var page notionPage
		if err := g.do(ctx, http.MethodGet, "/v1/pages/"+entryID, nil, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
}

func (g *HTTPNotionGateway) query(ctx context.Context, req queryRequest) ([]notionPage, error) {
	return withRetry(ctx, g.retry, storeClassifier, func(ctx context.Context) ([]notionPage, error) {
		var resp queryResponse
		if err := g.do(ctx, http.MethodPost, "/v1/databases/"+g.databaseID+"/query", req, &resp); err != nil {
			return nil, err
		}
		return resp.Results, nil
	})
}

func (g *HTTPNotionGateway) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Notion-Version", g.apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			return nil
		}
		return json.Unmarshal(respBody, out)
	}

	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
		return fmt.Errorf("%w: status=%d message=%s", ErrStoreUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	apiErr := &notionAPIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	var parsed map[string]any
	if json.Unmarshal(respBody, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			apiErr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			apiErr.Message = strings.TrimSpace(message)
		}
	}
	return apiErr
}
