// Package validate enforces the master arrest-record schema on the raw
// key-value records handed over by the county scrapers. Coercion is
// deliberately forgiving for optional fields and strict for the handful of
// fields the pipeline cannot operate without.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// FieldError describes one missing or invalid required field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Fields lists the offending field names for logging.
func Fields(errs []FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

// Validator coerces raw scraper records into ArrestRecords against the
// jurisdiction registry. Pure: no side effects, never panics.
type Validator struct {
	counties *model.CountyRegistry
	now      func() time.Time
}

// New builds a Validator. now is injectable for deterministic tests; nil
// means time.Now.
func New(counties *model.CountyRegistry, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{counties: counties, now: now}
}

// Record validates and coerces one raw record. On success the error slice
// is empty; otherwise it holds one FieldError per violation and the record
// must be discarded.
func (v *Validator) Record(raw map[string]any) (model.ArrestRecord, []FieldError) {
	var errs []FieldError
	now := v.now()

	rec := model.ArrestRecord{
		ScrapeTimestamp: coerceTime(raw["scrapeTimestamp"], now),
		ArrestNumber:    coerceString(raw["arrestNumber"]),
		FullName:        coerceString(raw["fullName"]),
		FirstName:       coerceString(raw["firstName"]),
		MiddleName:      coerceString(raw["middleName"]),
		LastName:        coerceString(raw["lastName"]),
		DOB:             coerceString(raw["dob"]),
		Sex:             coerceString(raw["sex"]),
		Race:            coerceString(raw["race"]),
		Height:          coerceString(raw["height"]),
		Weight:          coerceString(raw["weight"]),
		Address:         coerceString(raw["address"]),
		City:            coerceString(raw["city"]),
		State:           coerceString(raw["state"]),
		Zip:             coerceString(raw["zip"]),
		BondType:        coerceString(raw["bondType"]),
		BondPaid:        coerceString(raw["bondPaid"]),
		BookingTime:     coerceString(raw["bookingTime"]),
		CustodyPlace:    coerceString(raw["custodyPlace"]),
		CourtType:       coerceString(raw["courtType"]),
		CourtDate:       coerceString(raw["courtDate"]),
		CourtTime:       coerceString(raw["courtTime"]),
		CourtLocation:   coerceString(raw["courtLocation"]),
		CaseNumber:      coerceString(raw["caseNumber"]),
		DetailURL:       coerceString(raw["detailURL"]),
		MugshotURL:      coerceString(raw["mugshotURL"]),
		BondAmountCents: coerceCents(raw["bondAmountCents"]),
	}

	// Required: bookingNumber.
	rec.BookingNumber = coerceString(raw["bookingNumber"])
	if rec.BookingNumber == "" {
		errs = append(errs, FieldError{Field: "bookingNumber", Reason: "missing or empty"})
	}

	// Required: county, and it must be a known jurisdiction.
	countyRaw := coerceString(raw["county"])
	switch {
	case countyRaw == "":
		errs = append(errs, FieldError{Field: "county", Reason: "missing or empty"})
	default:
		c, ok := v.counties.Lookup(countyRaw)
		if !ok {
			errs = append(errs, FieldError{Field: "county", Reason: "unknown jurisdiction: " + countyRaw})
		} else {
			rec.County = c.Slug
		}
	}

	// Required: bookingDate must parse; no forgiving default here.
	if t, ok := parseTime(raw["bookingDate"]); ok {
		rec.BookingDate = t
	} else {
		errs = append(errs, FieldError{Field: "bookingDate", Reason: "missing or unparseable"})
	}

	// Required: status.
	statusRaw := coerceString(raw["status"])
	if statusRaw == "" {
		errs = append(errs, FieldError{Field: "status", Reason: "missing or empty"})
	} else {
		rec.Status = model.ParseCustodyStatus(statusRaw)
	}

	// Required: charges, non-empty after trimming.
	rec.Charges = coerceCharges(raw["charges"])
	if len(rec.Charges) == 0 {
		errs = append(errs, FieldError{Field: "charges", Reason: "missing or empty"})
	}

	if rec.FullName == "" {
		rec.FullName = strings.TrimSpace(rec.LastName + ", " + rec.FirstName)
		if rec.FullName == "," {
			rec.FullName = ""
		}
	}

	if perCharge, ok := raw["chargeBonds"]; ok {
		rec.ChargeBonds = coerceCentsList(perCharge)
	}

	if rec.BondAmountCents < 0 {
		rec.BondAmountCents = 0
	}

	return rec, errs
}

func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// coerceCents parses a currency-ish value into integer cents. String input
// is stripped of everything but digits, sign, and decimal point ("$1,500.00"
// → 150000). Unparseable input defaults to 0.
func coerceCents(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case string:
		cleaned := stripNonNumeric(n)
		if cleaned == "" {
			return 0
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		// Any currency formatting (dollar sign, thousands comma, decimal
		// point) means dollars; only bare integers are already cents.
		if strings.ContainsAny(n, "$,.") {
			return int64(f*100 + 0.5)
		}
		return int64(f)
	default:
		return 0
	}
}

func coerceCentsList(v any) []int64 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, coerceCents(it))
	}
	return out
}

func stripNonNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006",
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case float64:
		// Epoch seconds from JSON numbers.
		return time.Unix(int64(t), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// coerceTime is the forgiving variant used for optional date fields:
// unparseable input falls back to now.
func coerceTime(v any, now time.Time) time.Time {
	if t, ok := parseTime(v); ok {
		return t
	}
	return now
}

func coerceCharges(v any) []string {
	var parts []string
	switch c := v.(type) {
	case []string:
		parts = c
	case []any:
		for _, it := range c {
			parts = append(parts, coerceString(it))
		}
	case string:
		// Scrapers that could not split charges hand over one delimited blob.
		for _, p := range strings.Split(c, ";") {
			parts = append(parts, p)
		}
	default:
		return nil
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
