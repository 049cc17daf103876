// Package assess escalates ambiguous leads to a text-generation oracle for
// a structured risk read. The oracle is advisory: every failure mode,
// timeout included, degrades to a deterministic
// fallback, and the pipeline never blocks on oracle availability.
package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/config"
	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/resilience"
)

const systemPrompt = `You are a senior underwriter for a bail bonds agency in Florida.
Analyze arrest records and applicant details to determine the flight risk
and business viability of a potential client.

Risk factors:
- High risk: out-of-state or out-of-county warrants, "Fugitive", "Escape",
  violent felonies, trafficking, history of failures to appear, unemployed,
  no local ties.
- Low risk: DUI, petty theft, traffic violations, local residents, employed,
  strong community ties.

Business rules:
- We want: high bond amounts ($5k+), local residents, first-time offenders.
- We avoid: extradition cases, no-bond holds, "Hold for ICE/Marshal",
  multiple recent failures to appear.

Output pure JSON with no markdown formatting:
{
  "score": number (0-100, where 100 is a perfect client and 0 is do-not-write),
  "riskLevel": "Low" | "Medium" | "High" | "Critical",
  "rationale": "One short sentence explaining why.",
  "qualified": boolean (true if score > 60)
}`

const truncationMarker = "...[TRUNCATED]"

// Fallback is the deterministic assessment used whenever the oracle cannot
// produce a valid one. Degraded is set so downstream staff can see this was
// not a real assessment.
func Fallback() model.AiAssessment {
	return model.AiAssessment{
		Score:     50,
		RiskLevel: model.RiskMedium,
		Rationale: "analysis unavailable",
		Qualified: false,
		Degraded:  true,
	}
}

// Context carries the supplementary material available for one lead.
// Reports are free-text documents (background reports, court emails) and
// are individually truncated to the configured ceiling.
type Context struct {
	Reports    []string
	Residency  string
	Employment string
	History    string
	Ties       string
	Notes      string
}

// Escalator invokes the oracle under a hard wall-clock budget.
type Escalator struct {
	oracle    Oracle
	timeout   time.Duration
	maxChars  int
	maxTokens int64
}

// New builds an Escalator from config.
func New(oracle Oracle, cfg config.EscalatorConfig, maxTokens int64) *Escalator {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = 300_000
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Escalator{oracle: oracle, timeout: timeout, maxChars: maxChars, maxTokens: maxTokens}
}

// Assess submits the lead to the oracle and returns a validated assessment,
// or the fallback. It never returns an error: degraded output is the error
// signal, carried on the assessment itself.
func (e *Escalator) Assess(ctx context.Context, lead *model.Lead, ec Context) model.AiAssessment {
	userContent, err := e.buildUserContent(lead, ec)
	if err != nil {
		zap.L().Error("assess: build context failed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return Fallback()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// One retry on transient failure only. A malformed response aborts
	// immediately: re-asking the same question is not going to fix it.
	raw, err := resilience.DoVal(callCtx, e.retryConfig(), func(ctx context.Context) (string, error) {
		return e.oracle.Generate(ctx, systemPrompt, userContent, GenerateOptions{
			JSONMode:  true,
			MaxTokens: e.maxTokens,
		})
	})
	if err != nil {
		zap.L().Warn("assess: oracle unavailable, using fallback",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return Fallback()
	}

	assessment, err := decodeAssessment(raw)
	if err != nil {
		zap.L().Warn("assess: malformed oracle response, using fallback",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return Fallback()
	}

	return assessment
}

func (e *Escalator) retryConfig() resilience.RetryConfig {
	cfg := resilience.OracleRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", "risk_assessment")
	return cfg
}

// buildUserContent assembles the bounded prompt payload. Only the fields
// the underwriter needs go over the wire; each report document is hard-
// truncated with a marker.
func (e *Escalator) buildUserContent(lead *model.Lead, ec Context) (string, error) {
	payload := map[string]any{
		"name":       lead.Record.FullName,
		"county":     lead.Record.County,
		"charges":    lead.Record.Charges,
		"bond":       fmt.Sprintf("$%.2f", float64(lead.Record.BondAmountCents)/100),
		"residency":  orUnknown(ec.Residency, defaultResidency(lead.Record)),
		"employment": orUnknown(ec.Employment, ""),
		"history":    orUnknown(ec.History, ""),
		"ties":       orUnknown(ec.Ties, ""),
	}
	if ec.Notes != "" {
		payload["notes"] = ec.Notes
	}
	if len(ec.Reports) > 0 {
		reports := make([]string, len(ec.Reports))
		for i, r := range ec.Reports {
			reports[i] = e.truncate(r)
		}
		payload["reports"] = reports
	}

	b, err := json.Marshal(payload)
	return string(b), err
}

func (e *Escalator) truncate(s string) string {
	if len(s) <= e.maxChars {
		return s
	}
	return s[:e.maxChars] + truncationMarker
}

func orUnknown(v, fallback string) string {
	if v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return "Unknown"
}

// defaultResidency infers a coarse residency signal from the record's
// address when the caller supplied nothing better.
func defaultResidency(rec model.ArrestRecord) string {
	if rec.State == "" {
		return ""
	}
	if rec.State == "FL" {
		return "Local (FL)"
	}
	return "Out of state (" + rec.State + ")"
}
