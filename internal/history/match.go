// Package history cross-references new arrests against the agency's prior
// bond books. A hit means a former client is back in custody, which the
// staff treat as the highest-value lead category.
package history

import (
	"strings"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// Matcher holds the bond-book index for one scan cycle. Immutable after
// construction, safe for concurrent use.
type Matcher struct {
	bySurname map[string][]model.HistoricalBondRecord
}

// NewMatcher indexes the ledger by normalized surname.
func NewMatcher(ledger []model.HistoricalBondRecord) *Matcher {
	bySurname := make(map[string][]model.HistoricalBondRecord)
	for _, rec := range ledger {
		key := model.NormalizeName(rec.LastName)
		if key == "" {
			continue
		}
		bySurname[key] = append(bySurname[key], rec)
	}
	return &Matcher{bySurname: bySurname}
}

// Size returns the number of indexed records.
func (m *Matcher) Size() int {
	n := 0
	for _, recs := range m.bySurname {
		n += len(recs)
	}
	return n
}

// Match returns the historical record for this arrest, or nil. The rule is
// exact case-insensitive full-name match AND (DOB match OR at least one
// shared address token). Ambiguous multi-matches resolve to the most
// recently dated record; ties break to the higher liability amount.
func (m *Matcher) Match(rec model.ArrestRecord) *model.HistoricalBondRecord {
	first, surnames := splitName(rec)
	if len(surnames) == 0 {
		return nil
	}

	var matches []model.HistoricalBondRecord
	for _, last := range surnames {
		for _, c := range m.bySurname[last] {
			if firstToken(model.NormalizeName(c.FirstName)) != first {
				continue
			}
			if !secondarySignal(rec, c) {
				continue
			}
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return nil
	case 1:
		return &matches[0]
	}

	best := matches[0]
	for _, c := range matches[1:] {
		if c.BondDate.After(best.BondDate) {
			best = c
			continue
		}
		if c.BondDate.Equal(best.BondDate) && c.LiabilityCents > best.LiabilityCents {
			best = c
		}
	}
	return &best
}

// secondarySignal requires corroboration beyond the name: a DOB match or
// address-token overlap. Surname collisions are common enough in a county
// of a million people that name alone would flood the staff with alerts.
func secondarySignal(rec model.ArrestRecord, hist model.HistoricalBondRecord) bool {
	if rec.DOB != "" && hist.DOB != "" && rec.DOB == hist.DOB {
		return true
	}
	return addressTokenOverlap(rec.Address, hist.Address) >= 1
}

func addressTokenOverlap(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(model.NormalizeName(a)) {
		seen[tok] = true
	}
	overlap := 0
	for _, tok := range strings.Fields(model.NormalizeName(b)) {
		if seen[tok] {
			overlap++
		}
	}
	return overlap
}

// splitName extracts the normalized first name and candidate surnames from
// an arrest record, preferring the structured fields and falling back to
// parsing FullName in either "Last, First" or "First Last" form. The
// "First Middle Last" form is ambiguous for compound surnames ("JOSE DE LA
// CRUZ"), so it yields every tail suffix as a candidate; the index decides
// which one the ledger knows.
func splitName(rec model.ArrestRecord) (first string, surnames []string) {
	if rec.FirstName != "" || rec.LastName != "" {
		return firstToken(model.NormalizeName(rec.FirstName)), []string{model.NormalizeName(rec.LastName)}
	}

	full := strings.TrimSpace(rec.FullName)
	if full == "" {
		return "", nil
	}
	if before, after, found := strings.Cut(full, ","); found {
		// "Last, First Middle"
		return firstToken(model.NormalizeName(after)), []string{model.NormalizeName(before)}
	}
	tokens := strings.Fields(model.NormalizeName(full))
	if len(tokens) == 0 {
		return "", nil
	}
	if len(tokens) == 1 {
		return "", tokens
	}
	for i := len(tokens) - 1; i >= 1; i-- {
		surnames = append(surnames, strings.Join(tokens[i:], " "))
	}
	return tokens[0], surnames
}

func firstToken(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
