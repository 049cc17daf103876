package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamrock-bonds/lead-pipeline/internal/config"
	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/notify"
	"github.com/shamrock-bonds/lead-pipeline/internal/scorer"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	events []notify.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, ev notify.Event) notify.Result {
	d.events = append(d.events, ev)
	return notify.Result{Delivered: true}
}

func (d *recordingDispatcher) kinds() []string {
	out := make([]string, 0, len(d.events))
	for _, ev := range d.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeSink struct {
	leads        []*model.Lead
	processed    []string
	err          error
	processedErr error
}

func (s *fakeSink) Enqueue(_ context.Context, lead *model.Lead) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.leads = append(s.leads, lead)
	return "page-" + lead.ID, nil
}

func (s *fakeSink) MarkProcessed(_ context.Context, ref string, _ time.Time) error {
	if s.processedErr != nil {
		return s.processedErr
	}
	s.processed = append(s.processed, ref)
	return nil
}

func newTestMachine(t *testing.T, sink IntakeSink) (*Machine, *store.SQLiteStore, *recordingDispatcher) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	disp := &recordingDispatcher{}
	m := New(st, scorer.New(config.ScoringConfig{}), sink, disp, WithClock(func() time.Time { return testNow }))
	return m, st, disp
}

func hotRecord(bookingNumber string) model.ArrestRecord {
	return model.ArrestRecord{
		County:          "Lee",
		BookingNumber:   bookingNumber,
		FullName:        "DOE, JOHN",
		FirstName:       "JOHN",
		LastName:        "DOE",
		Charges:         []string{"DUI"},
		BondAmountCents: 150_000,
		BookingDate:     testNow.Add(-2 * time.Hour),
		Status:          model.StatusInCustody,
	}
}

func newLead(t *testing.T, st store.Store, rec model.ArrestRecord) *model.Lead {
	t.Helper()
	lead := &model.Lead{
		ID:               uuid.NewString(),
		Record:           rec,
		State:            model.LeadStateNew,
		CreatedAt:        testNow,
		LastTransitionAt: testNow,
	}
	require.NoError(t, st.CreateLead(context.Background(), lead))
	return lead
}

// Advances a fresh lead to Qualified through the machine itself.
func qualifiedLead(t *testing.T, m *Machine, st store.Store, bookingNumber string) *model.Lead {
	t.Helper()
	ctx := context.Background()
	lead := newLead(t, st, hotRecord(bookingNumber))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)
	state, err := m.Route(ctx, lead, nil)
	require.NoError(t, err)
	require.Equal(t, model.LeadStateQualified, state)
	return lead
}

// --- Score ---

func TestMachine_Score_NewLead(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))

	res, err := m.Score(ctx, lead)
	require.NoError(t, err)

	// Bond tier 150k plus same-day recency plus a DUI charge.
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, model.BucketHot, res.Bucket)
	assert.Equal(t, model.LeadStateScored, lead.State)

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, stored.Score)
	assert.Equal(t, model.LeadStateScored, stored.State)
}

func TestMachine_Score_Reentrant(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))

	first, err := m.Score(ctx, lead)
	require.NoError(t, err)

	// Second invocation returns the stored result without re-scoring.
	second, err := m.Score(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, model.LeadStateScored, lead.State)
}

func TestMachine_Score_StaleCopyGetsStoredResult(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))

	// A second handle to the same lead, as two overlapping scan cycles
	// would hold.
	stale := *lead
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)

	res, err := m.Score(ctx, &stale)
	require.NoError(t, err)
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, model.LeadStateScored, stale.State)
}

// --- Route ---

func TestMachine_Route_QualifiedWithoutAssessment(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)

	state, err := m.Route(ctx, lead, nil)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateQualified, state)
	assert.Contains(t, disp.kinds(), "lead_qualified")
}

func TestMachine_Route_DisqualifiedBucket(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()

	rec := hotRecord("BK-1001")
	rec.Status = model.StatusReleased
	lead := newLead(t, st, rec)
	res, err := m.Score(ctx, lead)
	require.NoError(t, err)
	require.Equal(t, model.BucketDisqualified, res.Bucket)

	state, err := m.Route(ctx, lead, nil)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateDisqualified, state)
	assert.Empty(t, disp.events)
}

func TestMachine_Route_AssessmentOverrules(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)

	assessment := &model.AiAssessment{
		Score:     30,
		RiskLevel: model.RiskHigh,
		Rationale: "extensive failure-to-appear history",
		Qualified: false,
	}
	state, err := m.Route(ctx, lead, assessment)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateDisqualified, state)
	assert.Empty(t, disp.events)

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AiAssessment)
	assert.Equal(t, 30, stored.AiAssessment.Score)
}

func TestMachine_Route_TwiceIsIllegal(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)
	_, err = m.Route(ctx, lead, nil)
	require.NoError(t, err)

	_, err = m.Route(ctx, lead, nil)
	var ite *IllegalTransitionError
	require.True(t, eris.As(err, &ite))
	assert.Equal(t, model.LeadStateQualified, ite.From)
	assert.Equal(t, EventRouted, ite.Event)
}

// --- EnqueueIntake ---

func TestMachine_EnqueueIntake(t *testing.T) {
	sink := &fakeSink{}
	m, st, _ := newTestMachine(t, sink)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")

	require.NoError(t, m.EnqueueIntake(ctx, lead))
	assert.Equal(t, model.LeadStateIntakeQueued, lead.State)
	require.Len(t, sink.leads, 1)
	assert.Equal(t, lead.ID, sink.leads[0].ID)

	// The page id handed back by the sink is persisted on the lead so the
	// approval path can find the page again.
	assert.Equal(t, "page-"+lead.ID, lead.IntakeRef)
	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "page-"+lead.ID, stored.IntakeRef)
}

func TestMachine_EnqueueIntake_ClaimsBeforeSink(t *testing.T) {
	sink := &fakeSink{err: eris.New("notion unreachable")}
	m, st, _ := newTestMachine(t, sink)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")

	err := m.EnqueueIntake(ctx, lead)
	require.Error(t, err)

	// Transition happened before the hand-off failed, so the lead is
	// claimed and a naive retry from Qualified cannot double-enqueue.
	stored, gerr := st.GetLead(ctx, lead.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.LeadStateIntakeQueued, stored.State)
}

func TestMachine_EnqueueIntake_SecondCallLoses(t *testing.T) {
	sink := &fakeSink{}
	m, st, _ := newTestMachine(t, sink)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")
	require.NoError(t, m.EnqueueIntake(ctx, lead))

	stale := *lead
	stale.State = model.LeadStateQualified
	err := m.EnqueueIntake(ctx, &stale)
	var ite *IllegalTransitionError
	require.True(t, eris.As(err, &ite))
	assert.Equal(t, model.LeadStateIntakeQueued, ite.From)
	assert.Len(t, sink.leads, 1)
}

func TestMachine_EnqueueIntake_NilSink(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	lead := qualifiedLead(t, m, st, "BK-1001")

	require.NoError(t, m.EnqueueIntake(context.Background(), lead))
	assert.Equal(t, model.LeadStateIntakeQueued, lead.State)
}

// --- MarkProcessed ---

func TestMachine_MarkProcessed(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")
	require.NoError(t, m.EnqueueIntake(ctx, lead))

	require.NoError(t, m.MarkProcessed(ctx, lead.ID))

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateProcessed, stored.State)
}

func TestMachine_MarkProcessed_FlipsQueuePage(t *testing.T) {
	sink := &fakeSink{}
	m, st, _ := newTestMachine(t, sink)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")
	require.NoError(t, m.EnqueueIntake(ctx, lead))

	require.NoError(t, m.MarkProcessed(ctx, lead.ID))
	assert.Equal(t, []string{"page-" + lead.ID}, sink.processed)
}

func TestMachine_MarkProcessed_QueueWriteBackFailureIsNonFatal(t *testing.T) {
	sink := &fakeSink{}
	m, st, _ := newTestMachine(t, sink)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")
	require.NoError(t, m.EnqueueIntake(ctx, lead))
	sink.processedErr = eris.New("notion unreachable")

	// The lead still reaches Processed; the stale page is the reconcile
	// sweep's problem.
	require.NoError(t, m.MarkProcessed(ctx, lead.ID))
	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateProcessed, stored.State)
	assert.Empty(t, sink.processed)
}

func TestMachine_MarkProcessed_FromNewIsIllegal(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	lead := newLead(t, st, hotRecord("BK-1001"))

	err := m.MarkProcessed(context.Background(), lead.ID)
	var ite *IllegalTransitionError
	require.True(t, eris.As(err, &ite))
	assert.Equal(t, model.LeadStateNew, ite.From)
	assert.Equal(t, model.LeadStateProcessed, ite.Attempted)
}

func TestMachine_MarkProcessed_UnknownLead(t *testing.T) {
	m, _, _ := newTestMachine(t, nil)

	err := m.MarkProcessed(context.Background(), uuid.NewString())
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

// --- RecordUpdated ---

func TestMachine_RecordUpdated_ReleaseDisqualifiesScored(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)

	res := store.UpsertResult{
		Outcome:       store.BookingUpdated,
		StatusChanged: true,
		PrevStatus:    model.StatusInCustody,
		NewStatus:     model.StatusReleased,
	}
	require.NoError(t, m.RecordUpdated(ctx, lead.Record, res))

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateDisqualified, stored.State)
}

func TestMachine_RecordUpdated_ReleaseNotifiesQualified(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()
	lead := qualifiedLead(t, m, st, "BK-1001")
	disp.events = nil

	res := store.UpsertResult{
		Outcome:       store.BookingUpdated,
		StatusChanged: true,
		PrevStatus:    model.StatusInCustody,
		NewStatus:     model.StatusReleased,
	}
	require.NoError(t, m.RecordUpdated(ctx, lead.Record, res))

	// The lead keeps its state; staff just get told.
	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateQualified, stored.State)
	assert.Equal(t, []string{"lead_released"}, disp.kinds())
}

func TestMachine_RecordUpdated_BondChangeIsIgnored(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)

	res := store.UpsertResult{Outcome: store.BookingUpdated, BondChanged: true}
	require.NoError(t, m.RecordUpdated(ctx, lead.Record, res))

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateScored, stored.State)
	assert.Empty(t, disp.events)
}

func TestMachine_RecordUpdated_NoLeadForBooking(t *testing.T) {
	m, _, _ := newTestMachine(t, nil)

	res := store.UpsertResult{
		Outcome:       store.BookingUpdated,
		StatusChanged: true,
		NewStatus:     model.StatusReleased,
	}
	assert.NoError(t, m.RecordUpdated(context.Background(), hotRecord("BK-UNSEEN"), res))
}

// --- AlertHistorical ---

func TestMachine_AlertHistorical(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()
	lead := newLead(t, st, hotRecord("BK-1001"))
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)

	match := &model.HistoricalBondRecord{
		FullName:       "Doe, John",
		BondDate:       time.Date(2016, 3, 1, 0, 0, 0, 0, time.UTC),
		PowerNumber:    "PN-100",
		LiabilityCents: 500_000,
	}
	require.NoError(t, m.AlertHistorical(ctx, lead, match))
	assert.True(t, lead.Alerted)
	assert.Equal(t, []string{"historical_match"}, disp.kinds())
	assert.Equal(t, notify.SeverityUrgent, disp.events[0].Severity)

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, stored.Alerted)
	require.NotNil(t, stored.HistoricalMatch)
	assert.Equal(t, "PN-100", stored.HistoricalMatch.PowerNumber)

	// Alerting is one-shot per lead.
	require.NoError(t, m.AlertHistorical(ctx, lead, match))
	assert.Len(t, disp.events, 1)
}

func TestMachine_AlertHistorical_NilMatch(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	lead := newLead(t, st, hotRecord("BK-1001"))

	require.NoError(t, m.AlertHistorical(context.Background(), lead, nil))
	assert.False(t, lead.Alerted)
	assert.Empty(t, disp.events)
}

func TestMachine_AlertHistorical_TerminalLead(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()

	rec := hotRecord("BK-1001")
	rec.Status = model.StatusReleased
	lead := newLead(t, st, rec)
	_, err := m.Score(ctx, lead)
	require.NoError(t, err)
	_, err = m.Route(ctx, lead, nil)
	require.NoError(t, err)
	require.True(t, lead.State.Terminal())

	require.NoError(t, m.AlertHistorical(ctx, lead, &model.HistoricalBondRecord{PowerNumber: "PN-100"}))
	assert.False(t, lead.Alerted)
	assert.Empty(t, disp.events)
}

// --- SweepStale ---

func TestMachine_SweepStale(t *testing.T) {
	m, st, disp := newTestMachine(t, nil)
	ctx := context.Background()

	lead := qualifiedLead(t, m, st, "BK-1001")
	disp.events = nil

	// Nothing is past the cutoff yet.
	swept, err := m.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)

	// Zero window puts the lead behind the cutoff.
	swept, err = m.SweepStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, []string{"lead_stale"}, disp.kinds())

	stored, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateStale, stored.State)

	// Sweeping again finds nothing.
	swept, err = m.SweepStale(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestMachine_SweepStale_SkipsFreshAndTerminal(t *testing.T) {
	m, st, _ := newTestMachine(t, nil)
	ctx := context.Background()

	queued := qualifiedLead(t, m, st, "BK-1001")
	require.NoError(t, m.EnqueueIntake(ctx, queued))
	require.NoError(t, m.MarkProcessed(ctx, queued.ID))

	idle := newLead(t, st, hotRecord("BK-2002"))

	swept, err := m.SweepStale(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, swept)

	stored, err := st.GetLead(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateProcessed, stored.State)

	stored, err = st.GetLead(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStateNew, stored.State)
}