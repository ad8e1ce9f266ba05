package domain

import "time"

// Category is the kind of fact a Sentence states about its illness.
type Category string

const (
	CategorySymptom      Category = "Symptom"
	CategoryCause        Category = "Cause"
	CategoryRiskFactor   Category = "RiskFactor"
	CategoryComplication Category = "Complication"
	CategoryPrevention   Category = "Prevention"
	CategoryOverview     Category = "Overview"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySymptom, CategoryCause, CategoryRiskFactor, CategoryComplication, CategoryPrevention, CategoryOverview:
		return true
	}
	return false
}

// Sentence is one atomic fact of the corpus. ID equals its position in the
// sequence the index was built from.
type Sentence struct {
	ID           int      `json:"id"`
	Text         string   `json:"text"`
	SourceEntity string   `json:"source_entity"`
	Category     Category `json:"category"`
}

// Hit is one scored entry of a retrieval result.
type Hit struct {
	SentenceID int     `json:"sentence_id"`
	Score      float64 `json:"score"`
}

// RetrievalResult is ordered by descending score, ties by ascending id.
type RetrievalResult []Hit

// IDs returns the sentence ids in result order.
func (r RetrievalResult) IDs() []int {
	ids := make([]int, len(r))
	for i, h := range r {
		ids[i] = h.SentenceID
	}
	return ids
}

// ConversationTurn is one question and its answer.
type ConversationTurn struct {
	Query  string    `json:"query"`
	Answer string    `json:"answer"`
	At     time.Time `json:"at"`
}

// UserProfile is the optional health profile a caller attaches to a question.
// Field names follow the JSON document the profile store persists.
type UserProfile struct {
	UserID             string   `json:"userId"`
	DateOfBirth        string   `json:"dateOfBirth,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	Conditions         []string `json:"conditions,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	CurrentMedications []string `json:"currentMedications,omitempty"`
	IsPregnant         bool     `json:"isPregnant,omitempty"`
	PregnancyDueDate   string   `json:"pregnancyDueDate,omitempty"`
}

// BirthYear extracts the year from DateOfBirth. Accepted layouts are
// YYYY-MM-DD, RFC 3339 and a bare year.
func (p *UserProfile) BirthYear() (int, bool) {
	if p == nil || p.DateOfBirth == "" {
		return 0, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006"} {
		if t, err := time.Parse(layout, p.DateOfBirth); err == nil {
			return t.Year(), true
		}
	}
	return 0, false
}
