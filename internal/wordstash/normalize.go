package wordstash

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Language string

const (
	LanguagePortuguese Language = "pt"
	LanguageEnglish    Language = "en"
	LanguageRussian    Language = "ru"
)

// Supported reports whether the language is one of the two directly
// stored target languages. Russian is the ambiguous source language:
// analysis may detect it, but entries are never filed under it.
func (l Language) Supported() bool {
	return l == LanguagePortuguese || l == LanguageEnglish
}

// Display maps the language code to the select value stored in Notion.
func (l Language) Display() string {
	if l == LanguagePortuguese {
		return "Portuguese"
	}
	return "English"
}

func ParseLanguage(raw string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pt", "pt-br":
		return LanguagePortuguese, true
	case "en":
		return LanguageEnglish, true
	case "ru":
		return LanguageRussian, true
	default:
		return "", false
	}
}

type PartOfSpeech string

const (
	PartOfSpeechVerb      PartOfSpeech = "verb"
	PartOfSpeechNoun      PartOfSpeech = "noun"
	PartOfSpeechAdjective PartOfSpeech = "adjective"
	PartOfSpeechOther     PartOfSpeech = "other"
)

func (p PartOfSpeech) Valid() bool {
	switch p {
	case PartOfSpeechVerb, PartOfSpeechNoun, PartOfSpeechAdjective, PartOfSpeechOther:
		return true
	}
	return false
}

// Display maps the part of speech to the Typo select value stored in
// Notion. Unknown values fall back to substantivo, matching the store's
// historical default.
func (p PartOfSpeech) Display() string {
	switch p {
	case PartOfSpeechVerb:
		return "Verbo"
	case PartOfSpeechAdjective:
		return "Adjetivo"
	default:
		return "substantivo"
	}
}

const trailingPunctuation = ".,!?"

// Normalize produces the canonical written form used for dedup keys:
// NFC-folded, trimmed, lowercased, internal whitespace collapsed to a
// single space, trailing punctuation stripped. Diacritics are preserved.
// Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, trailingPunctuation)
	return strings.TrimSpace(s)
}

// BuildKey derives the dedup key for a (language, headword) pair.
// Uniqueness of this key across non-archived entries is enforced by the
// engine, not the store.
func BuildKey(language Language, raw string) string {
	return string(language) + "|" + Normalize(raw)
}
