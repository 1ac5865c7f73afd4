package wordstash

import "strings"

// Notion column names from the vocabulary database.
const (
	propWord        = "Word"
	propKey         = "Key"
	propLanguage    = "Language"
	propTypo        = "Typo"
	propTranslation = "Translation"
	propContext     = "Context"
	propLearned     = "Learned"
	propDecks       = "Decks"
)

// Present-tense person cells. These four are part of the required schema;
// the perfect/imperfect columns are optional extras.
var requiredProperties = []string{
	propWord, propTranslation, propTypo, propLanguage, propKey,
	"Voce", "ele/ela", "eles/elas", "Nos",
}

type propertyKind string

const (
	kindTitle       propertyKind = "title"
	kindRichText    propertyKind = "rich_text"
	kindSelect      propertyKind = "select"
	kindMultiSelect propertyKind = "multi_select"
	kindCheckbox    propertyKind = "checkbox"
)

type textSpan struct {
	Content string `json:"content"`
}

type richTextItem struct {
	Text      *textSpan `json:"text,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

type selectOption struct {
	Name string `json:"name"`
}

// propertyValue is one typed slot of the store's property bag. Exactly
// one member is populated depending on the column's kind.
type propertyValue struct {
	Title       []richTextItem `json:"title,omitempty"`
	RichText    []richTextItem `json:"rich_text,omitempty"`
	Select      *selectOption  `json:"select,omitempty"`
	MultiSelect []selectOption `json:"multi_select,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
}

// isEmpty is the fill-only-empty predicate. Text slots are empty when no
// span carries non-whitespace content, selects when null, multi-selects
// when the option list is empty. Checkboxes are never empty: false is a
// value, not an absence.
func (p propertyValue) isEmpty(kind propertyKind) bool {
	switch kind {
	case kindTitle:
		return plainText(p.Title) == ""
	case kindRichText:
		return plainText(p.RichText) == ""
	case kindSelect:
		return p.Select == nil || strings.TrimSpace(p.Select.Name) == ""
	case kindMultiSelect:
		return len(p.MultiSelect) == 0
	case kindCheckbox:
		return false
	default:
		return false
	}
}

func plainText(items []richTextItem) string {
	var b strings.Builder
	for _, item := range items {
		if item.PlainText != "" {
			b.WriteString(item.PlainText)
		} else if item.Text != nil {
			b.WriteString(item.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func titleProperty(content string) propertyValue {
	return propertyValue{Title: []richTextItem{{Text: &textSpan{Content: content}}}}
}

func textProperty(content string) propertyValue {
	if content == "" {
		return propertyValue{RichText: []richTextItem{}}
	}
	return propertyValue{RichText: []richTextItem{{Text: &textSpan{Content: content}}}}
}

func selectProperty(name string) propertyValue {
	return propertyValue{Select: &selectOption{Name: name}}
}

func multiSelectProperty(names []string) propertyValue {
	options := make([]selectOption, 0, len(names))
	for _, name := range names {
		options = append(options, selectOption{Name: name})
	}
	return propertyValue{MultiSelect: options}
}

func checkboxProperty(value bool) propertyValue {
	return propertyValue{Checkbox: &value}
}

type notionPage struct {
	ID         string                   `json:"id"`
	Properties map[string]propertyValue `json:"properties"`
}

// Entry is the persisted vocabulary unit as read back from the store.
type Entry struct {
	ID           string            `json:"id"`
	Headword     string            `json:"headword"`
	DedupKey     string            `json:"dedupKey"`
	Language     string            `json:"language"`
	PartOfSpeech string            `json:"partOfSpeech"`
	Translation  string            `json:"translation"`
	Context      string            `json:"context,omitempty"`
	Learned      bool              `json:"learned"`
	Decks        []string          `json:"decks"`
	Conjugation  map[string]string `json:"conjugation,omitempty"`
}

// Conjugation cell columns, in the order they were added to the database.
var conjugationColumns = []string{
	"eu", "Voce", "ele/ela", "eles/elas", "Nos",
	"Perfeito_eu", "Perfeito_voce", "Perfeito_ele/ela", "Perfeito_eles/elas", "Perfeito_nos",
	"Imperfeito_eu", "Imperfeito_voce", "Imperfeito_ele/ela", "Imperfeito_eles/elas", "Imperfeito_nos",
}

// conjugationCells flattens a verb block into column → value, keeping
// only non-empty cells.
func conjugationCells(verb *VerbConjugation) map[string]string {
	if verb == nil {
		return nil
	}
	cells := map[string]string{}
	tenses := []struct {
		prefix string
		forms  PersonForms
	}{
		{"", verb.Presente},
		{"Perfeito_", verb.PreteritoPerfeito},
		{"Imperfeito_", verb.PreteritoImperfeito},
	}
	for _, tense := range tenses {
		persons := []struct {
			column string
			value  string
		}{
			{"eu", tense.forms.Eu},
			{"voce", tense.forms.Voce},
			{"ele/ela", tense.forms.EleEla},
			{"eles/elas", tense.forms.ElesElas},
			{"nos", tense.forms.Nos},
		}
		for _, person := range persons {
			value := strings.TrimSpace(person.value)
			if value == "" {
				continue
			}
			column := person.column
			if tense.prefix == "" {
				// Present-tense columns predate the others and carry
				// their original capitalized names.
				switch column {
				case "voce":
					column = "Voce"
				case "nos":
					column = "Nos"
				}
			} else {
				column = tense.prefix + column
			}
			cells[column] = value
		}
	}
	if len(cells) == 0 {
		return nil
	}
	return cells
}

func entryFromPage(page notionPage) Entry {
	props := page.Properties
	entry := Entry{
		ID:           page.ID,
		Headword:     plainText(props[propWord].Title),
		DedupKey:     plainText(props[propKey].RichText),
		Translation:  plainText(props[propTranslation].RichText),
		Context:      plainText(props[propContext].RichText),
		Language:     "Portuguese",
		PartOfSpeech: "substantivo",
	}
	if sel := props[propLanguage].Select; sel != nil && sel.Name != "" {
		entry.Language = sel.Name
	}
	if sel := props[propTypo].Select; sel != nil && sel.Name != "" {
		entry.PartOfSpeech = sel.Name
	}
	if cb := props[propLearned].Checkbox; cb != nil {
		entry.Learned = *cb
	}
	for _, option := range props[propDecks].MultiSelect {
		if option.Name != "" {
			entry.Decks = append(entry.Decks, option.Name)
		}
	}
	for _, column := range conjugationColumns {
		if value := plainText(props[column].RichText); value != "" {
			if entry.Conjugation == nil {
				entry.Conjugation = map[string]string{}
			}
			entry.Conjugation[column] = value
		}
	}
	return entry
}
