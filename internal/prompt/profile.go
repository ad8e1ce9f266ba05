package prompt

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"medrag/internal/domain"
)

// ProfileFields renders the present fields of p as "Key: value" strings in
// display order. Age is the current year minus the birth year.
func ProfileFields(p *domain.UserProfile, now time.Time) []string {
	if p == nil {
		return nil
	}
	var fields []string
	if year, ok := p.BirthYear(); ok {
		fields = append(fields, "Age: "+strconv.Itoa(now.Year()-year))
	}
	if g := strings.TrimSpace(p.Gender); g != "" {
		fields = append(fields, "Gender: "+g)
	}
	for _, f := range []struct {
		key    string
		values []string
	}{
		{"Conditions", p.Conditions},
		{"Allergies", p.Allergies},
		{"Current medications", p.CurrentMedications},
	} {
		if set := normalizeSet(f.values); len(set) > 0 {
			fields = append(fields, f.key+": "+strings.Join(set, ", "))
		}
	}
	if p.IsPregnant {
		due := strings.TrimSpace(p.PregnancyDueDate)
		if due == "" {
			due = "unknown"
		}
		fields = append(fields, "Pregnant: Yes (due date: "+due+")")
	}
	return fields
}

// normalizeSet trims, drops blanks and duplicates, and sorts.
func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
