package model

import "time"

// HistoricalBondRecord is a finalized bond from a prior year's bond book.
// Immutable; loaded in bulk once per scan cycle and used only for
// repeat-offender cross-referencing.
type HistoricalBondRecord struct {
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	FullName       string    `json:"full_name"`
	DOB            string    `json:"dob,omitempty"`
	Address        string    `json:"address,omitempty"`
	BondDate       time.Time `json:"bond_date"`
	PowerNumber    string    `json:"power_number,omitempty"`
	LiabilityCents int64     `json:"liability_cents"`
	PremiumCents   int64     `json:"premium_cents"`
	SourceFile     string    `json:"source_file,omitempty"`
}
