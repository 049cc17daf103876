package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

func histRecord(mod func(*model.HistoricalBondRecord)) model.HistoricalBondRecord {
	rec := model.HistoricalBondRecord{
		FirstName:      "John",
		LastName:       "Doe",
		FullName:       "Doe, John",
		DOB:            "1990-05-14",
		Address:        "123 Palmetto Ave Fort Myers",
		BondDate:       time.Date(2016, 3, 1, 0, 0, 0, 0, time.UTC),
		PowerNumber:    "PN-100",
		LiabilityCents: 500_000,
	}
	if mod != nil {
		mod(&rec)
	}
	return rec
}

func arrest(mod func(*model.ArrestRecord)) model.ArrestRecord {
	rec := model.ArrestRecord{
		County:        "Lee",
		BookingNumber: "BK-1",
		FirstName:     "JOHN",
		LastName:      "DOE",
		FullName:      "DOE, JOHN",
		DOB:           "1990-05-14",
		Address:       "999 Other St",
	}
	if mod != nil {
		mod(&rec)
	}
	return rec
}

func TestMatch_NameAndDOB(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{histRecord(nil)})

	got := m.Match(arrest(nil))
	require.NotNil(t, got)
	assert.Equal(t, "PN-100", got.PowerNumber)
}

func TestMatch_NameAloneIsNotEnough(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{histRecord(nil)})

	got := m.Match(arrest(func(r *model.ArrestRecord) {
		r.DOB = "1985-01-01"
		r.Address = "999 Other St"
	}))
	assert.Nil(t, got)
}

func TestMatch_AddressTokenOverlap(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{histRecord(nil)})

	got := m.Match(arrest(func(r *model.ArrestRecord) {
		r.DOB = "" // no DOB, one shared address token carries the match
		r.Address = "Apt 4, Palmetto Court"
	}))
	require.NotNil(t, got)
	assert.Equal(t, "PN-100", got.PowerNumber)
}

func TestMatch_CaseInsensitiveNames(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{
		histRecord(func(r *model.HistoricalBondRecord) {
			r.FirstName = "JOSÉ"
			r.LastName = "GARCÍA"
		}),
	})

	got := m.Match(arrest(func(r *model.ArrestRecord) {
		r.FirstName = "Jose"
		r.LastName = "Garcia"
	}))
	assert.NotNil(t, got)
}

func TestMatch_FullNameFallback(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{histRecord(nil)})

	// Scraper that only fills FullName in "Last, First Middle" form.
	got := m.Match(arrest(func(r *model.ArrestRecord) {
		r.FirstName = ""
		r.LastName = ""
		r.FullName = "Doe, John Michael"
	}))
	assert.NotNil(t, got)

	// And "First Last" form.
	got = m.Match(arrest(func(r *model.ArrestRecord) {
		r.FirstName = ""
		r.LastName = ""
		r.FullName = "John Doe"
	}))
	assert.NotNil(t, got)
}

func TestMatch_CompoundSurnameFromFullName(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{
		histRecord(func(r *model.HistoricalBondRecord) {
			r.FirstName = "Jose"
			r.LastName = "De La Cruz"
			r.DOB = "1988-02-02"
		}),
	})

	// Unstructured "First Middle Last" form with a multi-token surname.
	got := m.Match(arrest(func(r *model.ArrestRecord) {
		r.FirstName = ""
		r.LastName = ""
		r.FullName = "Jose De La Cruz"
		r.DOB = "1988-02-02"
	}))
	require.NotNil(t, got)
	assert.Equal(t, "De La Cruz", got.LastName)
}

func TestMatch_MultiMatchPrefersMostRecent(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{
		histRecord(func(r *model.HistoricalBondRecord) {
			r.PowerNumber = "PN-OLD"
			r.BondDate = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
		}),
		histRecord(func(r *model.HistoricalBondRecord) {
			r.PowerNumber = "PN-NEW"
			r.BondDate = time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC)
		}),
	})

	got := m.Match(arrest(nil))
	require.NotNil(t, got)
	assert.Equal(t, "PN-NEW", got.PowerNumber)
}

func TestMatch_TieBreaksOnLiability(t *testing.T) {
	sameDay := time.Date(2016, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewMatcher([]model.HistoricalBondRecord{
		histRecord(func(r *model.HistoricalBondRecord) {
			r.PowerNumber = "PN-SMALL"
			r.BondDate = sameDay
			r.LiabilityCents = 100_000
		}),
		histRecord(func(r *model.HistoricalBondRecord) {
			r.PowerNumber = "PN-BIG"
			r.BondDate = sameDay
			r.LiabilityCents = 900_000
		}),
	})

	got := m.Match(arrest(nil))
	require.NotNil(t, got)
	assert.Equal(t, "PN-BIG", got.PowerNumber)
}

func TestMatch_NoSurname(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{histRecord(nil)})

	got := m.Match(arrest(func(r *model.ArrestRecord) {
		r.FirstName = ""
		r.LastName = ""
		r.FullName = ""
	}))
	assert.Nil(t, got)
}

func TestNewMatcher_SkipsBlankSurnames(t *testing.T) {
	m := NewMatcher([]model.HistoricalBondRecord{
		histRecord(nil),
		histRecord(func(r *model.HistoricalBondRecord) { r.LastName = "  " }),
	})
	assert.Equal(t, 1, m.Size())
}

func TestParseBondRow(t *testing.T) {
	rec, ok := parseBondRow([]string{
		"John", "Doe", "1990-05-14", "123 Palmetto Ave", "03/01/2016",
		"PN-100", "$5,000.00", "$500.00", "2016 Bond Book.xlsx",
	})
	require.True(t, ok)
	assert.Equal(t, "Doe, John", rec.FullName)
	assert.Equal(t, time.Date(2016, 3, 1, 0, 0, 0, 0, time.UTC), rec.BondDate)
	assert.Equal(t, int64(500_000), rec.LiabilityCents)
	assert.Equal(t, int64(50_000), rec.PremiumCents)
	assert.Equal(t, "2016 Bond Book.xlsx", rec.SourceFile)
}

func TestParseBondRow_MissingLastNameSkipped(t *testing.T) {
	_, ok := parseBondRow([]string{"John", "", "", "", "", "", "", "", ""})
	assert.False(t, ok)
}

func TestParseBondRow_ShortRowPadded(t *testing.T) {
	rec, ok := parseBondRow([]string{"Jane", "Smith"})
	require.True(t, ok)
	assert.Equal(t, "Smith, Jane", rec.FullName)
	assert.Zero(t, rec.LiabilityCents)
}

func TestParseCents_BondBook(t *testing.T) {
	assert.Equal(t, int64(500_000), parseCents("$5,000.00"))
	assert.Equal(t, int64(0), parseCents(""))
	assert.Equal(t, int64(0), parseCents("n/a"))
	assert.Equal(t, int64(123_400), parseCents("1234.00"))
}