package corpus

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

const (
	// NameField is the record key holding the illness name.
	NameField = "Name of illness"
	// UnknownName replaces a missing or blank illness name.
	UnknownName = "Unknown illness"
)

// Record is one illness record as decoded from the corpus file.
type Record map[string]any

// CategorySpec maps a record field to a sentence category and the label
// used in the sentence text.
type CategorySpec struct {
	Category domain.Category `yaml:"category" toml:"category"`
	Field    string          `yaml:"field" toml:"field"`
	Label    string          `yaml:"label" toml:"label"`
}

// DefaultCategories returns the five list categories in declaration order.
func DefaultCategories() []CategorySpec {
	return []CategorySpec{
		{Category: domain.CategorySymptom, Field: "Symptoms", Label: "symptom"},
		{Category: domain.CategoryCause, Field: "Causes", Label: "cause"},
		{Category: domain.CategoryRiskFactor, Field: "Risk Factors", Label: "risk factor"},
		{Category: domain.CategoryComplication, Field: "Complications", Label: "complication"},
		{Category: domain.CategoryPrevention, Field: "Prevention", Label: "prevention"},
	}
}

// DefaultOverview describes the optional overview facts.
func DefaultOverview() CategorySpec {
	return CategorySpec{Category: domain.CategoryOverview, Field: "Overview", Label: "overview"}
}

// Normalizer flattens illness records into an ordered sentence sequence.
type Normalizer struct {
	categories        []CategorySpec
	overview          CategorySpec
	overviewSentences int
	summarizer        domain.Summarizer
}

type Option func(*Normalizer)

// WithCategories replaces the list categories. Order of specs is the order
// sentences are emitted within a record.
func WithCategories(specs ...CategorySpec) Option {
	return func(n *Normalizer) {
		n.categories = specs
	}
}

// WithOverview enables overview facts: the overview paragraph of each record
// is condensed to at most maxSentences sentences by s.
func WithOverview(spec CategorySpec, s domain.Summarizer, maxSentences int) Option {
	return func(n *Normalizer) {
		n.overview = spec
		n.summarizer = s
		n.overviewSentences = maxSentences
	}
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		categories: DefaultCategories(),
		overview:   DefaultOverview(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts records into sentences. Output order is records in input
// order, categories in declared order and items in list order; the id of each
// sentence is its position. Any malformed record aborts the whole run.
func (n *Normalizer) Normalize(records []Record) ([]domain.Sentence, error) {
	var out []domain.Sentence
	emit := func(name string, spec CategorySpec, item string) {
		out = append(out, domain.Sentence{
			ID:           len(out),
			Text:         fmt.Sprintf("%s has %s: %s", name, spec.Label, item),
			SourceEntity: name,
			Category:     spec.Category,
		})
	}

	for i, rec := range records {
		name, err := recordName(rec)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid illness name", goerr.V("record", i))
		}

		for _, spec := range n.categories {
			items, err := fieldItems(rec[spec.Field])
			if err != nil {
				return nil, goerr.Wrap(err, "invalid category field", goerr.V("record", i), goerr.V("field", spec.Field))
			}
			for _, item := range items {
				emit(name, spec, item)
			}
		}

		if n.overviewSentences <= 0 || n.summarizer == nil {
			continue
		}
		paragraphs, err := fieldItems(rec[n.overview.Field])
		if err != nil {
			return nil, goerr.Wrap(err, "invalid overview field", goerr.V("record", i), goerr.V("field", n.overview.Field))
		}
		if len(paragraphs) == 0 {
			continue
		}
		facts, err := n.summarizer.Summarize(strings.Join(paragraphs, " "), n.overviewSentences)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to summarize overview", goerr.V("record", i))
		}
		for _, fact := range facts {
			if fact = strings.TrimSpace(fact); fact != "" {
				emit(name, n.overview, fact)
			}
		}
	}
	return out, nil
}

func recordName(rec Record) (string, error) {
	raw, ok := rec[NameField]
	if !ok || raw == nil {
		return UnknownName, nil
	}
	name, ok := raw.(string)
	if !ok {
		return "", goerr.Wrap(domain.ErrCorpusFormat, "name is not a string", goerr.V("type", fmt.Sprintf("%T", raw)))
	}
	if name = strings.TrimSpace(name); name == "" {
		return UnknownName, nil
	}
	return name, nil
}

// fieldItems accepts a string, a list of strings or null. Blank entries are
// skipped.
func fieldItems(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	case []string:
		return trimmed(v), nil
	case []any:
		items := make([]string, 0, len(v))
		for j, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, goerr.Wrap(domain.ErrCorpusFormat, "list item is not a string", goerr.V("item", j), goerr.V("type", fmt.Sprintf("%T", e)))
			}
			items = append(items, s)
		}
		return trimmed(items), nil
	default:
		return nil, goerr.Wrap(domain.ErrCorpusFormat, "field is neither string nor list", goerr.V("type", fmt.Sprintf("%T", raw)))
	}
}

func trimmed(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
