package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKeyPart(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  bk-1001 ", "BK-1001"},
		{"lee", "LEE"},
		{"Palm   Beach", "PALM BEACH"},
		{"Muñoz", "MUNOZ"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKeyPart(tt.in), tt.in)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"O'Brien, Jr.", "OBRIEN JR"},
		{"DOE, JOHN", "DOE JOHN"},
		{"José García", "JOSE GARCIA"},
		{"smith-jones", "SMITHJONES"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), tt.in)
	}
}

func TestNaturalKey(t *testing.T) {
	rec := ArrestRecord{County: " lee ", BookingNumber: "bk-1001"}
	county, booking := rec.NaturalKey()
	assert.Equal(t, "LEE", county)
	assert.Equal(t, "BK-1001", booking)
}

func TestChargesText(t *testing.T) {
	rec := ArrestRecord{Charges: []string{"DUI", "Petit Theft"}}
	assert.Equal(t, "dui | petit theft", rec.ChargesText())
}

func TestParseCustodyStatus(t *testing.T) {
	assert.Equal(t, StatusInCustody, ParseCustodyStatus("In Custody"))
	assert.Equal(t, StatusInCustody, ParseCustodyStatus("BOOKED"))
	assert.Equal(t, StatusReleased, ParseCustodyStatus(" released "))
	assert.Equal(t, StatusTransferred, ParseCustodyStatus("Transfer"))
	assert.Equal(t, StatusUnknown, ParseCustodyStatus("pending review"))
}

func TestLeadStateTerminal(t *testing.T) {
	assert.False(t, LeadStateNew.Terminal())
	assert.False(t, LeadStateScored.Terminal())
	assert.False(t, LeadStateQualified.Terminal())
	assert.False(t, LeadStateIntakeQueued.Terminal())
	assert.True(t, LeadStateDisqualified.Terminal())
	assert.True(t, LeadStateProcessed.Terminal())
	assert.True(t, LeadStateStale.Terminal())
}

func TestValidRiskLevel(t *testing.T) {
	for _, s := range []string{"Low", "Medium", "High", "Critical"} {
		assert.True(t, ValidRiskLevel(s), s)
	}
	assert.False(t, ValidRiskLevel("medium"))
	assert.False(t, ValidRiskLevel("Severe"))
	assert.False(t, ValidRiskLevel(""))
}
