package wordstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

const analysisSystemPrompt = `You are a linguistic analysis tool. Analyze the input word and return ONLY a valid JSON object with the exact structure specified. Do not include any explanations, markdown formatting, or additional text. Return pure JSON only.`

const analysisUserPromptFormat = `Analyze the word %q and return a JSON object with this exact structure:
{
  "detected_language": "pt|en|ru",
  "pos": "verb|noun|adjective|other",
  "normalized": { "lemma": "", "infinitive": "" },
  "translation_ru": "",
  "verb": {
    "presente": { "eu": "", "voce": "", "ele_ela": "", "eles_elas": "", "nos": "" },
    "preterito_perfeito": { "eu": "", "voce": "", "ele_ela": "", "eles_elas": "", "nos": "" },
    "preterito_imperfeito": { "eu": "", "voce": "", "ele_ela": "", "eles_elas": "", "nos": "" }
  },
  "confidence": 0.0
}

Rules:
- detected_language: "pt" for Brazilian Portuguese, "en" for English, "ru" for Russian
- pos: "verb", "noun", "adjective", or "other"
- normalized.lemma: base form for nouns/adjectives
- normalized.infinitive: infinitive form for verbs
- translation_ru: Russian translation
- verb forms: only fill if detected_language is "pt" and pos is "verb"
- confidence: number between 0.0 and 1.0
- All keys must exist; use empty strings for missing values`

// Shape-only schema: enum and required-field enforcement stays in Go so
// that a structurally valid response with missing required values is
// reported as incomplete rather than malformed.
const analysisResponseSchema = `{
  "type": "object",
  "properties": {
    "detected_language": {"type": "string"},
    "pos": {"type": "string"},
    "normalized": {
      "type": "object",
      "properties": {
        "lemma": {"type": "string"},
        "infinitive": {"type": "string"}
      }
    },
    "translation_ru": {"type": "string"},
    "verb": {
      "type": "object",
      "properties": {
        "presente": {"$ref": "#/$defs/persons"},
        "preterito_perfeito": {"$ref": "#/$defs/persons"},
        "preterito_imperfeito": {"$ref": "#/$defs/persons"}
      }
    },
    "confidence": {"type": "number"}
  },
  "$defs": {
    "persons": {
      "type": "object",
      "properties": {
        "eu": {"type": "string"},
        "voce": {"type": "string"},
        "ele_ela": {"type": "string"},
        "eles_elas": {"type": "string"},
        "nos": {"type": "string"}
      }
    }
  }
}`

type OpenAIClientOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
	Retry       RetryPolicy
	Logger      *zap.Logger
}

// HTTPAnalysisClient talks to the OpenAI chat-completions API and turns
// the model's JSON answer into a LexicalAnalysis. The retry envelope
// covers network failures and 429/5xx; malformed or incomplete output is
// never retried.
type HTTPAnalysisClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	retry       RetryPolicy
	schema      *jsonschema.Schema
	logger      *zap.Logger
}

func NewHTTPAnalysisClient(opts OpenAIClientOptions) (*HTTPAnalysisClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(analysisResponseSchema))
	if err != nil {
		return nil, fmt.Errorf("parse analysis response schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis-response.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("register analysis response schema: %w", err)
	}
	schema, err := compiler.Compile("analysis-response.json")
	if err != nil {
		return nil, fmt.Errorf("compile analysis response schema: %w", err)
	}

	return &HTTPAnalysisClient{
		baseURL:     baseURL,
		apiKey:      opts.APIKey,
		model:       model,
		temperature: temperature,
		httpClient:  httpClient,
		retry:       opts.Retry,
		schema:      schema,
		logger:      logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func analysisClassifier(err error) ErrorClass {
	if errors.Is(err, ErrAnalysisUnavailable) {
		return ClassTransient
	}
	return ClassPermanent
}

func (c *HTTPAnalysisClient) Analyze(ctx context.Context, word string, hint Language) (*LexicalAnalysis, error) {
	content, err := withRetry(ctx, c.retry, analysisClassifier, func(ctx context.Context) (string, error) {
		return c.complete(ctx, word, hint)
	})
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrAnalysisMalformed, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisMalformed, err)
	}

	var analysis LexicalAnalysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisMalformed, err)
	}
	if analysis.DetectedLanguage == "" || analysis.PartOfSpeech == "" {
		return nil, fmt.Errorf("%w: detected_language and pos are required", ErrAnalysisIncomplete)
	}
	if _, ok := ParseLanguage(string(analysis.DetectedLanguage)); !ok {
		return nil, fmt.Errorf("%w: unsupported detected language %q", ErrAnalysisIncomplete, analysis.DetectedLanguage)
	}
	if !analysis.PartOfSpeech.Valid() {
		return nil, fmt.Errorf("%w: unsupported part of speech %q", ErrAnalysisIncomplete, analysis.PartOfSpeech)
	}
	return &analysis, nil
}

func (c *HTTPAnalysisClient) complete(ctx context.Context, word string, hint Language) (string, error) {
	userPrompt := fmt.Sprintf(analysisUserPromptFormat, word)
	if hint.Supported() {
		userPrompt += fmt.Sprintf("\n- The learner's target language is %s.", hint.Display())
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    c.temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisUnavailable, readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
		return "", fmt.Errorf("%w: status=%d", ErrAnalysisUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("openai request failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisMalformed, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai request failed: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrAnalysisMalformed)
	}
	return parsed.Choices[0].Message.Content, nil
}
