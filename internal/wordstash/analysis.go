package wordstash

import "context"

// PersonForms holds the five grammatical persons of one tense. Cells the
// analysis could not fill stay empty.
type PersonForms struct {
	Eu       string `json:"eu"`
	Voce     string `json:"voce"`
	EleEla   string `json:"ele_ela"`
	ElesElas string `json:"eles_elas"`
	Nos      string `json:"nos"`
}

type VerbConjugation struct {
	Presente            PersonForms `json:"presente"`
	PreteritoPerfeito   PersonForms `json:"preterito_perfeito"`
	PreteritoImperfeito PersonForms `json:"preterito_imperfeito"`
}

type NormalizedForms struct {
	Lemma      string `json:"lemma"`
	Infinitive string `json:"infinitive"`
}

// LexicalAnalysis is the structured result of one analysis-service call.
// Ephemeral: it feeds exactly one reconciliation and is never persisted
// as-is.
type LexicalAnalysis struct {
	DetectedLanguage Language         `json:"detected_language"`
	PartOfSpeech     PartOfSpeech     `json:"pos"`
	Normalized       NormalizedForms  `json:"normalized"`
	Translation      string           `json:"translation_ru"`
	Verb             *VerbConjugation `json:"verb,omitempty"`
	Confidence       float64          `json:"confidence"`
}

type Analyzer interface {
	// Analyze submits a raw word for lexical analysis. hint is empty when
	// the caller supplied no target language.
	Analyze(ctx context.Context, word string, hint Language) (*LexicalAnalysis, error)
}
