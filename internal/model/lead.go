package model

import "time"

// LeadState is the lifecycle state of a lead. Transitions are owned by
// lifecycle.Machine; nothing else writes state.
type LeadState string

const (
	LeadStateNew          LeadState = "new"
	LeadStateScored       LeadState = "scored"
	LeadStateQualified    LeadState = "qualified"
	LeadStateDisqualified LeadState = "disqualified"
	LeadStateIntakeQueued LeadState = "intake_queued"
	LeadStateProcessed    LeadState = "processed"
	LeadStateStale        LeadState = "stale"
)

// Terminal reports whether a lead in this state can never transition again.
func (s LeadState) Terminal() bool {
	switch s {
	case LeadStateDisqualified, LeadStateProcessed, LeadStateStale:
		return true
	}
	return false
}

// Bucket is the coarse triage tier assigned by the deterministic scorer.
type Bucket string

const (
	BucketCold         Bucket = "cold"
	BucketWarm         Bucket = "warm"
	BucketHot          Bucket = "hot"
	BucketDisqualified Bucket = "disqualified"
)

// RiskLevel is the oracle's coarse risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// ValidRiskLevel reports whether s is one of the four oracle risk levels.
func ValidRiskLevel(s string) bool {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AiAssessment is the structured output of the risk-assessment oracle.
// Degraded marks the deterministic fallback used when the oracle failed,
// so staff can see it was not a real assessment.
type AiAssessment struct {
	Score     int       `json:"score"`
	RiskLevel RiskLevel `json:"risk_level"`
	Rationale string    `json:"rationale"`
	Qualified bool      `json:"qualified"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Lead is the workflow wrapper around one arrest record. It owns a copy of
// the record as of scoring time; later re-scrapes never mutate it.
type Lead struct {
	ID     string       `json:"id"`
	Record ArrestRecord `json:"record"`

	Score  int    `json:"score"`  // 0-100, set once
	Bucket Bucket `json:"bucket"` // set once with Score

	// AiAssessment is present only when escalation ran.
	AiAssessment *AiAssessment `json:"ai_assessment,omitempty"`

	State LeadState `json:"state"`

	// Alerted is orthogonal to State: a historical match can fire in any
	// non-terminal state without advancing the lifecycle.
	Alerted       bool   `json:"alerted"`
	AlertSeverity string `json:"alert_severity,omitempty"`

	// HistoricalMatch references the bond-book record that matched, if any.
	HistoricalMatch *HistoricalBondRecord `json:"historical_match,omitempty"`

	// IntakeRef is the external worklist page id set when the lead is
	// handed to the intake queue.
	IntakeRef string `json:"intake_ref,omitempty"`

	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// ScoredOnce reports whether the deterministic score has been applied.
func (l *Lead) ScoredOnce() bool {
	return l.State != LeadStateNew
}

// Transition is one audit row in the lead's transition log.
type Transition struct {
	LeadID    string    `json:"lead_id"`
	FromState LeadState `json:"from_state"`
	ToState   LeadState `json:"to_state"`
	Event     string    `json:"event"`
	At        time.Time `json:"at"`
}
