// Package pipeline orchestrates lead intake: validate, dedup, score,
// escalate, route, enqueue. It owns no state of its own; every mutation goes
// through the store or the lifecycle machine so overlapping invocations stay
// safe.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shamrock-bonds/lead-pipeline/internal/assess"
	"github.com/shamrock-bonds/lead-pipeline/internal/config"
	"github.com/shamrock-bonds/lead-pipeline/internal/history"
	"github.com/shamrock-bonds/lead-pipeline/internal/lifecycle"
	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/scorer"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
	"github.com/shamrock-bonds/lead-pipeline/internal/validate"
)

// Outcome classifies what happened to one raw record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"   // new lead created and routed
	OutcomeDuplicate Outcome = "duplicate" // booking already known, nothing changed
	OutcomeUpdated   Outcome = "updated"   // booking re-scraped with changes, no new lead
	OutcomeRejected  Outcome = "rejected"  // failed schema validation
	OutcomeFailed    Outcome = "failed"    // infrastructure error mid-record
)

// RecordResult is the per-record entry in a batch report.
type RecordResult struct {
	Index         int             `json:"index"`
	County        string          `json:"county,omitempty"`
	BookingNumber string          `json:"booking_number,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	LeadID        string          `json:"lead_id,omitempty"`
	State         model.LeadState `json:"state,omitempty"`
	Score         int             `json:"score,omitempty"`
	Bucket        model.Bucket    `json:"bucket,omitempty"`
	Errors        []string        `json:"errors,omitempty"`
}

// Report summarizes one ingestion batch.
type Report struct {
	Total      int            `json:"total"`
	Created    int            `json:"created"`
	Duplicates int            `json:"duplicates"`
	Updated    int            `json:"updated"`
	Rejected   int            `json:"rejected"`
	Failed     int            `json:"failed"`
	Results    []RecordResult `json:"results"`
}

// Pipeline wires the intake components together.
type Pipeline struct {
	store         store.Store
	validator     *validate.Validator
	scorer        *scorer.Scorer
	escalator     *assess.Escalator
	machine       *lifecycle.Machine
	matcher       *history.Matcher
	maxConcurrent int
	now           func() time.Time
}

// New creates a Pipeline. escalator may be nil to disable escalation (Warm
// leads then route on the deterministic score alone); matcher may be nil when
// no bond book is configured.
func New(
	st store.Store,
	validator *validate.Validator,
	sc *scorer.Scorer,
	escalator *assess.Escalator,
	machine *lifecycle.Machine,
	matcher *history.Matcher,
	cfg config.IngestConfig,
) *Pipeline {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Pipeline{
		store:         st,
		validator:     validator,
		scorer:        sc,
		escalator:     escalator,
		machine:       machine,
		matcher:       matcher,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Ingest runs the full intake flow over a batch of raw records. Records are
// processed in bounded parallel; one record's failure never stops the batch.
// The returned error is non-nil only when the whole batch was cut short by
// context cancellation.
func (p *Pipeline) Ingest(ctx context.Context, raws []map[string]any) (*Report, error) {
	results := make([]RecordResult, len(raws))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for i, raw := range raws {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				results[i] = RecordResult{Index: i, Outcome: OutcomeFailed, Errors: []string{err.Error()}}
				return err
			}
			results[i] = p.ingestOne(gCtx, i, raw)
			return nil
		})
	}

	err := g.Wait()

	report := &Report{Total: len(raws), Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeCreated:
			report.Created++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeUpdated:
			report.Updated++
		case OutcomeRejected:
			report.Rejected++
		case OutcomeFailed:
			report.Failed++
		}
	}

	zap.L().Info("pipeline: batch complete",
		zap.Int("total", report.Total),
		zap.Int("created", report.Created),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("updated", report.Updated),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed", report.Failed),
	)
	if err != nil {
		return report, eris.Wrap(err, "pipeline: batch cancelled")
	}
	return report, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, idx int, raw map[string]any) RecordResult {
	rec, ferrs := p.validator.Record(raw)
	if len(ferrs) > 0 {
		msgs := make([]string, len(ferrs))
		for i, fe := range ferrs {
			msgs[i] = fe.Error()
		}
		zap.L().Warn("pipeline: record rejected",
			zap.Int("index", idx),
			zap.Strings("fields", validate.Fields(ferrs)),
		)
		return RecordResult{Index: idx, Outcome: OutcomeRejected, Errors: msgs}
	}

	result := RecordResult{
		Index:         idx,
		County:        rec.County,
		BookingNumber: rec.BookingNumber,
	}

	upsert, err := p.store.UpsertBooking(ctx, rec, p.now())
	if err != nil {
		return p.failed(result, idx, "upsert booking", err)
	}

	switch upsert.Outcome {
	case store.BookingDuplicate:
		result.Outcome = OutcomeDuplicate
		return result

	case store.BookingUpdated:
		result.Outcome = OutcomeUpdated
		if err := p.machine.RecordUpdated(ctx, rec, upsert); err != nil {
			// The stored booking is already updated; the lead-side reaction
			// failed. Report it without undoing the upsert.
			return p.failed(result, idx, "record updated", err)
		}
		return result
	}

	// BookingNew: exactly one invocation per natural key gets here.
	lead := &model.Lead{
		ID:               uuid.NewString(),
		Record:           rec,
		State:            model.LeadStateNew,
		CreatedAt:        p.now(),
		LastTransitionAt: p.now(),
	}
	if err := p.store.CreateLead(ctx, lead); err != nil {
		return p.failed(result, idx, "create lead", err)
	}
	result.LeadID = lead.ID

	scoreRes, err := p.machine.Score(ctx, lead)
	if err != nil {
		return p.failed(result, idx, "score", err)
	}
	result.Score = scoreRes.Score
	result.Bucket = scoreRes.Bucket

	// Repeat-client alert fires before routing so a match is surfaced even
	// for leads the router is about to disqualify.
	var match *model.HistoricalBondRecord
	if p.matcher != nil {
		match = p.matcher.Match(rec)
		if err := p.machine.AlertHistorical(ctx, lead, match); err != nil {
			zap.L().Warn("pipeline: historical alert failed",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		}
	}

	var assessment *model.AiAssessment
	if p.escalator != nil && p.scorer.ShouldEscalate(scoreRes) {
		a := p.escalator.Assess(ctx, lead, p.assessContext(match))
		assessment = &a
	}

	state, err := p.machine.Route(ctx, lead, assessment)
	if err != nil {
		return p.failed(result, idx, "route", err)
	}

	if state == model.LeadStateQualified {
		if err := p.machine.EnqueueIntake(ctx, lead); err != nil {
			return p.failed(result, idx, "enqueue intake", err)
		}
	}

	result.Outcome = OutcomeCreated
	result.State = lead.State
	return result
}

// assessContext seeds the oracle context with what the pipeline knows. The
// bond-book history is the one signal intake can add beyond the record
// itself.
func (p *Pipeline) assessContext(match *model.HistoricalBondRecord) assess.Context {
	var ec assess.Context
	if match != nil {
		ec.History = fmt.Sprintf(
			"Previous client: bonded by this agency on %s, liability $%.2f (power %s).",
			match.BondDate.Format("2006-01-02"),
			float64(match.LiabilityCents)/100,
			match.PowerNumber,
		)
	}
	return ec
}

func (p *Pipeline) failed(result RecordResult, idx int, step string, err error) RecordResult {
	zap.L().Error("pipeline: record failed",
		zap.Int("index", idx),
		zap.String("step", step),
		zap.String("booking", result.County+"/"+result.BookingNumber),
		zap.Error(err),
	)
	result.Outcome = OutcomeFailed
	result.Errors = append(result.Errors, eris.Wrap(err, "pipeline: "+step).Error())
	return result
}
