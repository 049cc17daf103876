package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// ErrNotFound is returned when a lead or booking does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrStateConflict is returned by TransitionLead when the conditional write
// matched no row: the lead was not in the expected from-state. The state
// machine converts this into an IllegalTransition for the caller.
var ErrStateConflict = eris.New("store: lead state conflict")

// UpsertOutcome classifies the result of a booking upsert.
type UpsertOutcome string

const (
	// BookingNew: first time this natural key has been seen. Exactly one
	// caller per key ever receives this, even under concurrent scrapes.
	BookingNew UpsertOutcome = "new"
	// BookingDuplicate: key already seen, record unchanged in any
	// status-relevant way.
	BookingDuplicate UpsertOutcome = "duplicate"
	// BookingUpdated: key already seen but the re-scrape changed fields;
	// stored record replaced, no new lead.
	BookingUpdated UpsertOutcome = "updated"
)

// UpsertResult reports what a booking upsert did and which status-relevant
// fields changed on a re-scrape.
type UpsertResult struct {
	Outcome       UpsertOutcome
	StatusChanged bool
	PrevStatus    model.CustodyStatus
	NewStatus     model.CustodyStatus
	BondChanged   bool
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	State  model.LeadState `json:"state,omitempty"`
	County string          `json:"county,omitempty"`
	Bucket model.Bucket    `json:"bucket,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the intake pipeline. The
// booking log and the lead table are the only shared mutable state in the
// system; every mutation here is a single conditional write so overlapping
// invocations serialize at the database.
type Store interface {
	// Booking dedup log. Check-then-act is one logical operation keyed on
	// (county, bookingNumber).
	UpsertBooking(ctx context.Context, rec model.ArrestRecord, seenAt time.Time) (UpsertResult, error)

	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByBooking(ctx context.Context, county, bookingNumber string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Score and assessment are set-once: the bool reports whether the write
	// applied (false means a value was already present and is authoritative).
	SetScore(ctx context.Context, leadID string, score int, bucket model.Bucket) (bool, error)
	SetAssessment(ctx context.Context, leadID string, a model.AiAssessment) (bool, error)

	// TransitionLead atomically moves a lead from one state to another and
	// appends an audit row. Returns ErrStateConflict when the lead is no
	// longer in from.
	TransitionLead(ctx context.Context, leadID string, from, to model.LeadState, event string, at time.Time) error

	// MarkAlerted sets the orthogonal alert flag. Idempotent.
	MarkAlerted(ctx context.Context, leadID, severity string, match *model.HistoricalBondRecord) error

	// SetIntakeRef records the external worklist page backing this lead;
	// GetLeadByIntakeRef resolves a page back to its lead for write-back
	// reconciliation.
	SetIntakeRef(ctx context.Context, leadID, ref string) error
	GetLeadByIntakeRef(ctx context.Context, ref string) (*model.Lead, error)

	// ListStale returns leads sitting in Qualified or IntakeQueued whose
	// last transition is at or before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]model.Lead, error)

	// ListTransitions returns the audit trail for one lead, oldest first.
	ListTransitions(ctx context.Context, leadID string) ([]model.Transition, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
