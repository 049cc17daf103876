// Package lifecycle owns lead state. Every transition goes through Machine,
// which delegates the actual compare-and-swap to the store so that two
// overlapping invocations racing on the same lead serialize at the database:
// the loser gets an IllegalTransitionError, never a silent overwrite.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/notify"
	"github.com/shamrock-bonds/lead-pipeline/internal/scorer"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
)

// Transition event names recorded in the audit trail.
const (
	EventScored         = "scored"
	EventRouted         = "routed"
	EventIntakeEnqueued = "intake_enqueued"
	EventStaffApproved  = "staff_approved"
	EventReleased       = "subject_released"
	EventStaleSweep     = "stale_sweep"
)

// IllegalTransitionError reports a transition attempted out of order. From is
// the lead's actual state at rejection time, not the state the caller assumed.
type IllegalTransitionError struct {
	LeadID    string
	From      model.LeadState
	Attempted model.LeadState
	Event     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: illegal transition for lead %s: %s -> %s (event %s)",
		e.LeadID, e.From, e.Attempted, e.Event)
}

// IntakeSink hands a qualified lead off to the external intake queue. The
// hand-off must succeed; delivery retries are the caller's policy.
// MarkProcessed flips the queue entry once staff approve the lead.
type IntakeSink interface {
	Enqueue(ctx context.Context, lead *model.Lead) (string, error)
	MarkProcessed(ctx context.Context, ref string, at time.Time) error
}

// Machine applies lifecycle transitions and emits their side effects.
type Machine struct {
	store      store.Store
	scorer     *scorer.Scorer
	sink       IntakeSink
	dispatcher notify.Dispatcher
	now        func() time.Time
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New builds a Machine. sink may be nil when no intake queue is configured;
// EnqueueIntake then transitions without an external hand-off.
func New(st store.Store, sc *scorer.Scorer, sink IntakeSink, dispatcher notify.Dispatcher, opts ...Option) *Machine {
	m := &Machine{
		store:      st,
		scorer:     sc,
		sink:       sink,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	if m.dispatcher == nil {
		m.dispatcher = notify.LogDispatcher{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Score applies the deterministic score to a New lead and moves it to Scored.
// Re-entrant calls for an already-scored lead are no-ops returning the stored
// result; under a concurrent race the database write decides the winner and
// both callers see the same value.
func (m *Machine) Score(ctx context.Context, lead *model.Lead) (scorer.Result, error) {
	if lead.ScoredOnce() {
		return scorer.Result{Score: lead.Score, Bucket: lead.Bucket}, nil
	}

	res := m.scorer.Score(lead.Record, m.now())

	applied, err := m.store.SetScore(ctx, lead.ID, res.Score, res.Bucket)
	if err != nil {
		return scorer.Result{}, eris.Wrap(err, "lifecycle: set score")
	}
	if !applied {
		// Another invocation scored first; its value is authoritative.
		return m.cachedResult(ctx, lead)
	}

	if err := m.transition(ctx, lead, model.LeadStateNew, model.LeadStateScored, EventScored); err != nil {
		var ite *IllegalTransitionError
		if eris.As(err, &ite) {
			return m.cachedResult(ctx, lead)
		}
		return scorer.Result{}, err
	}

	lead.Score = res.Score
	lead.Bucket = res.Bucket
	return res, nil
}

func (m *Machine) cachedResult(ctx context.Context, lead *model.Lead) (scorer.Result, error) {
	stored, err := m.store.GetLead(ctx, lead.ID)
	if err != nil {
		return scorer.Result{}, eris.Wrap(err, "lifecycle: reload scored lead")
	}
	*lead = *stored
	return scorer.Result{Score: stored.Score, Bucket: stored.Bucket}, nil
}

// Route moves a Scored lead to Qualified or Disqualified. assessment is nil
// when escalation did not run; when present it is persisted set-once and its
// qualified flag participates in the guard.
func (m *Machine) Route(ctx context.Context, lead *model.Lead, assessment *model.AiAssessment) (model.LeadState, error) {
	if assessment != nil {
		applied, err := m.store.SetAssessment(ctx, lead.ID, *assessment)
		if err != nil {
			return "", eris.Wrap(err, "lifecycle: set assessment")
		}
		if !applied {
			stored, err := m.store.GetLead(ctx, lead.ID)
			if err != nil {
				return "", eris.Wrap(err, "lifecycle: reload assessment")
			}
			assessment = stored.AiAssessment
		}
		lead.AiAssessment = assessment
	}

	to := model.LeadStateDisqualified
	if lead.Bucket != model.BucketDisqualified && (assessment == nil || assessment.Qualified) {
		to = model.LeadStateQualified
	}

	if err := m.transition(ctx, lead, model.LeadStateScored, to, EventRouted); err != nil {
		return "", err
	}

	if to == model.LeadStateQualified {
		m.dispatcher.Notify(ctx, notify.Event{
			Kind:     "lead_qualified",
			Severity: notify.SeverityStandard,
			LeadID:   lead.ID,
			County:   lead.Record.County,
			Summary: fmt.Sprintf("%s qualified: score %d (%s), bond $%.2f",
				lead.Record.FullName, lead.Score, lead.Bucket,
				float64(lead.Record.BondAmountCents)/100),
			Detail: map[string]any{
				"booking_number": lead.Record.BookingNumber,
				"charges":        lead.Record.Charges,
			},
		})
	}
	return to, nil
}

// EnqueueIntake moves a Qualified lead to IntakeQueued and hands it to the
// intake queue. The transition claims the lead first so that concurrent
// invocations cannot enqueue the same lead twice; a sink failure after the
// claim is returned for the caller's retry policy, the state stands.
func (m *Machine) EnqueueIntake(ctx context.Context, lead *model.Lead) error {
	if err := m.transition(ctx, lead, model.LeadStateQualified, model.LeadStateIntakeQueued, EventIntakeEnqueued); err != nil {
		return err
	}

	if m.sink == nil {
		zap.L().Debug("lifecycle: no intake sink configured", zap.String("lead_id", lead.ID))
		return nil
	}
	ref, err := m.sink.Enqueue(ctx, lead)
	if err != nil {
		return eris.Wrap(err, "lifecycle: intake hand-off")
	}
	if err := m.store.SetIntakeRef(ctx, lead.ID, ref); err != nil {
		// The hand-off already happened; losing the ref only costs the
		// later write-back, which the reconcile sweep repairs.
		zap.L().Warn("lifecycle: persist intake ref failed",
			zap.String("lead_id", lead.ID),
			zap.String("intake_ref", ref),
			zap.Error(err),
		)
	} else {
		lead.IntakeRef = ref
	}
	zap.L().Info("lifecycle: lead enqueued for intake",
		zap.String("lead_id", lead.ID),
		zap.String("intake_ref", ref),
	)
	return nil
}

// MarkProcessed records staff approval, legal only from IntakeQueued. When the
// lead carries an intake ref the queue entry is flipped too; a failure there is
// logged and swallowed, the reconcile sweep catches the page up later.
func (m *Machine) MarkProcessed(ctx context.Context, leadID string) error {
	lead, err := m.store.GetLead(ctx, leadID)
	if err != nil {
		return eris.Wrap(err, "lifecycle: load lead")
	}
	if err := m.transition(ctx, lead, model.LeadStateIntakeQueued, model.LeadStateProcessed, EventStaffApproved); err != nil {
		return err
	}
	if m.sink != nil && lead.IntakeRef != "" {
		if err := m.sink.MarkProcessed(ctx, lead.IntakeRef, m.now()); err != nil {
			zap.L().Warn("lifecycle: intake queue write-back failed",
				zap.String("lead_id", lead.ID),
				zap.String("intake_ref", lead.IntakeRef),
				zap.Error(err),
			)
		}
	}
	return nil
}

// RecordUpdated consumes a re-scrape that changed a stored booking. Only a
// status flip to Released is status-relevant: a lead still in Scored is
// disqualified, a lead already Qualified or IntakeQueued keeps its state and
// staff get an informational notification instead.
func (m *Machine) RecordUpdated(ctx context.Context, rec model.ArrestRecord, res store.UpsertResult) error {
	if res.Outcome != store.BookingUpdated || !res.StatusChanged || res.NewStatus != model.StatusReleased {
		return nil
	}

	lead, err := m.store.GetLeadByBooking(ctx, rec.County, rec.BookingNumber)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil
		}
		return eris.Wrap(err, "lifecycle: load lead for update")
	}

	switch lead.State {
	case model.LeadStateScored:
		return m.transition(ctx, lead, model.LeadStateScored, model.LeadStateDisqualified, EventReleased)
	case model.LeadStateQualified, model.LeadStateIntakeQueued:
		m.dispatcher.Notify(ctx, notify.Event{
			Kind:     "lead_released",
			Severity: notify.SeverityInfo,
			LeadID:   lead.ID,
			County:   rec.County,
			Summary:  fmt.Sprintf("%s released from custody while %s", rec.FullName, lead.State),
		})
	}
	return nil
}

// AlertHistorical sets the orthogonal alert flag for a bond-book match and
// notifies staff. It never changes state and is idempotent per lead.
func (m *Machine) AlertHistorical(ctx context.Context, lead *model.Lead, match *model.HistoricalBondRecord) error {
	if match == nil || lead.State.Terminal() || lead.Alerted {
		return nil
	}

	if err := m.store.MarkAlerted(ctx, lead.ID, "HistoricalMatch", match); err != nil {
		return eris.Wrap(err, "lifecycle: mark alerted")
	}
	lead.Alerted = true
	lead.AlertSeverity = "HistoricalMatch"
	lead.HistoricalMatch = match

	m.dispatcher.Notify(ctx, notify.Event{
		Kind:     "historical_match",
		Severity: notify.SeverityUrgent,
		LeadID:   lead.ID,
		County:   lead.Record.County,
		Summary: fmt.Sprintf("Repeat client: %s previously bonded %s (power %s)",
			lead.Record.FullName,
			match.BondDate.Format("2006-01-02"),
			match.PowerNumber),
		Detail: map[string]any{
			"liability_cents": match.LiabilityCents,
			"source_file":     match.SourceFile,
		},
	})
	return nil
}

// transition runs the store's conditional write and translates a state
// conflict into IllegalTransitionError carrying the lead's actual state.
func (m *Machine) transition(ctx context.Context, lead *model.Lead, from, to model.LeadState, event string) error {
	at := m.now()
	err := m.store.TransitionLead(ctx, lead.ID, from, to, event, at)
	if err == nil {
		lead.State = to
		lead.LastTransitionAt = at
		return nil
	}
	if !eris.Is(err, store.ErrStateConflict) {
		return eris.Wrap(err, "lifecycle: transition")
	}

	actual := from
	if current, lerr := m.store.GetLead(ctx, lead.ID); lerr == nil {
		actual = current.State
	}
	ite := &IllegalTransitionError{
		LeadID:    lead.ID,
		From:      actual,
		Attempted: to,
		Event:     event,
	}
	zap.L().Error("lifecycle: transition rejected",
		zap.String("lead_id", lead.ID),
		zap.String("from", string(actual)),
		zap.String("attempted", string(to)),
		zap.String("event", event),
	)
	return ite
}
