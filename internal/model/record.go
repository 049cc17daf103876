package model

import (
	"strings"
	"time"
)

// CustodyStatus is the booking status reported by the county jail roster.
type CustodyStatus string

const (
	StatusInCustody   CustodyStatus = "in_custody"
	StatusReleased    CustodyStatus = "released"
	StatusTransferred CustodyStatus = "transferred"
	StatusUnknown     CustodyStatus = "unknown"
)

// ParseCustodyStatus maps the free-text status strings the scrapers emit
// onto the canonical enum. Unrecognized values become StatusUnknown.
func ParseCustodyStatus(s string) CustodyStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in_custody", "in custody", "incustody", "in jail", "booked":
		return StatusInCustody
	case "released", "out of custody", "out":
		return StatusReleased
	case "transferred", "transfer":
		return StatusTransferred
	default:
		return StatusUnknown
	}
}

// ArrestRecord is one booking event as handed over by a county scraper,
// normalized to the master schema. (County, BookingNumber) is the natural
// key: the same pair seen twice is a re-scrape, never a new lead.
type ArrestRecord struct {
	ScrapeTimestamp time.Time `json:"scrape_timestamp"`
	County          string    `json:"county"`
	BookingNumber   string    `json:"booking_number"`
	ArrestNumber    string    `json:"arrest_number,omitempty"`

	FullName   string `json:"full_name"`
	FirstName  string `json:"first_name,omitempty"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	DOB        string `json:"dob,omitempty"` // YYYY-MM-DD when known
	Sex        string `json:"sex,omitempty"`
	Race       string `json:"race,omitempty"`
	Height     string `json:"height,omitempty"`
	Weight     string `json:"weight,omitempty"`

	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`

	// Charges is the ordered list of free-text charge descriptions.
	// Required non-empty; ChargeBonds, when present, is per-charge bond
	// amounts in cents aligned by index.
	Charges     []string `json:"charges"`
	ChargeBonds []int64  `json:"charge_bonds,omitempty"`

	// BondAmountCents is the total bond in cents. Zero means no-bond/held.
	BondAmountCents int64  `json:"bond_amount_cents"`
	BondType        string `json:"bond_type,omitempty"`
	BondPaid        string `json:"bond_paid,omitempty"`

	BookingDate  time.Time     `json:"booking_date"`
	BookingTime  string        `json:"booking_time,omitempty"`
	Status       CustodyStatus `json:"status"`
	CustodyPlace string        `json:"custody_place,omitempty"`

	CourtType     string `json:"court_type,omitempty"`
	CourtDate     string `json:"court_date,omitempty"`
	CourtTime     string `json:"court_time,omitempty"`
	CourtLocation string `json:"court_location,omitempty"`
	CaseNumber    string `json:"case_number,omitempty"`

	// DetailURL links back to the county booking page; MugshotURL requires
	// a detail scrape and is usually empty.
	DetailURL  string `json:"detail_url,omitempty"`
	MugshotURL string `json:"mugshot_url,omitempty"`
}

// NaturalKey returns the case-normalized, whitespace-trimmed dedup key.
func (r ArrestRecord) NaturalKey() (county, bookingNumber string) {
	return NormalizeKeyPart(r.County), NormalizeKeyPart(r.BookingNumber)
}

// ChargesText joins all charges lowercased for keyword matching.
func (r ArrestRecord) ChargesText() string {
	return strings.ToLower(strings.Join(r.Charges, " | "))
}
