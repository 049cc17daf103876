// Package scorer implements the deterministic triage score. Pure functions
// only: for identical inputs and an identical "now" the output is
// bit-identical, which the state machine relies on for idempotent scoring.
package scorer

import (
	"math"
	"strings"
	"time"

	"github.com/shamrock-bonds/lead-pipeline/internal/config"
	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// Point values and band cutoffs for the accumulation steps.
const (
	bondFloorCents    = 50_000  // $500
	bondPremiumCents  = 150_000 // $1,500
	bondFloorPoints   = 30
	bondPremiumPoints = 20 // cumulative on top of bondFloorPoints

	recencyFreshPoints = 10 // booked within 1 day
	recencyNearPoints  = 20 // booked within 2 days

	chargePoints = 20
)

// chargeKeywords are matched case-insensitively as substrings across all
// charges. Multiple hits do not stack.
var chargeKeywords = []string{"battery", "dui", "theft", "domestic"}

// Result is the scorer output consumed by the state machine.
type Result struct {
	Score  int          `json:"score"`
	Bucket model.Bucket `json:"bucket"`
}

// Scorer assigns scores and buckets. Threshold boundaries come from
// configuration; point values are fixed.
type Scorer struct {
	hot  int
	warm int
}

// New builds a Scorer from config. Zero thresholds fall back to 70/40.
func New(cfg config.ScoringConfig) *Scorer {
	hot, warm := cfg.HotThreshold, cfg.WarmThreshold
	if hot <= 0 {
		hot = 70
	}
	if warm <= 0 {
		warm = 40
	}
	return &Scorer{hot: hot, warm: warm}
}

// Score computes the triage score for one record at the given instant.
//
// Hard disqualifiers short-circuit: a released subject or a no-bond hold is
// never a viable lead, whatever else the record says. All other steps
// accumulate in a fixed order.
func (s *Scorer) Score(rec model.ArrestRecord, now time.Time) Result {
	if rec.Status == model.StatusReleased || rec.BondAmountCents == 0 {
		return Result{Score: 0, Bucket: model.BucketDisqualified}
	}

	score := 0

	// Bond amount: floor points, plus premium points cumulatively.
	if rec.BondAmountCents >= bondFloorCents {
		score += bondFloorPoints
	}
	if rec.BondAmountCents >= bondPremiumCents {
		score += bondPremiumPoints
	}

	// Recency bands are mutually exclusive; the <=1 day band wins on the
	// boundary. The band values are preserved as observed in production
	// even though the 2-day band outscoring the 1-day band reads inverted;
	// changing them needs product-owner sign-off.
	switch days := ageDays(rec.BookingDate, now); {
	case days <= 1:
		score += recencyFreshPoints
	case days <= 2:
		score += recencyNearPoints
	}

	if hasChargeKeyword(rec) {
		score += chargePoints
	}

	return Result{Score: score, Bucket: s.bucket(score)}
}

// ShouldEscalate reports whether a result warrants the risk-assessment
// oracle. Hot leads are obviously good and disqualified leads are dead;
// only the ambiguous middle pays for an oracle call.
func (s *Scorer) ShouldEscalate(r Result) bool {
	return r.Bucket == model.BucketWarm
}

func (s *Scorer) bucket(score int) model.Bucket {
	switch {
	case score >= s.hot:
		return model.BucketHot
	case score >= s.warm:
		return model.BucketWarm
	default:
		return model.BucketCold
	}
}

// ageDays returns whole days between booking and now, ceiling. A booking
// earlier today is 0 days old; 25 hours ago is 2 days.
func ageDays(bookingDate, now time.Time) int {
	diff := now.Sub(bookingDate)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}

func hasChargeKeyword(rec model.ArrestRecord) bool {
	text := rec.ChargesText()
	for _, kw := range chargeKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
