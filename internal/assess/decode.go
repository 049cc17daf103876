package assess

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// ErrMalformedResponse classifies an oracle reply that could not be decoded
// into the fixed assessment shape. Never retried: a model that produced
// garbage once will produce garbage twice, so the caller fails straight to
// the fallback.
var ErrMalformedResponse = eris.New("assess: malformed oracle response")

// decodeAssessment strictly decodes the oracle's JSON reply. Every key must
// be present and well-typed; anything else is ErrMalformedResponse. The
// qualified flag is re-derived from the score rather than trusted, so a
// model that contradicts its own numbers cannot sneak a lead through.
func decodeAssessment(raw string) (model.AiAssessment, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return model.AiAssessment{}, eris.Wrap(ErrMalformedResponse, "empty response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return model.AiAssessment{}, eris.Wrap(ErrMalformedResponse, err.Error())
	}

	for _, key := range []string{"score", "riskLevel", "rationale", "qualified"} {
		if _, ok := fields[key]; !ok {
			return model.AiAssessment{}, eris.Wrapf(ErrMalformedResponse, "missing key %q", key)
		}
	}

	var score int
	if err := json.Unmarshal(fields["score"], &score); err != nil {
		return model.AiAssessment{}, eris.Wrap(ErrMalformedResponse, "score not a number")
	}
	if score < 0 || score > 100 {
		return model.AiAssessment{}, eris.Wrapf(ErrMalformedResponse, "score %d out of range", score)
	}

	var riskLevel string
	if err := json.Unmarshal(fields["riskLevel"], &riskLevel); err != nil {
		return model.AiAssessment{}, eris.Wrap(ErrMalformedResponse, "riskLevel not a string")
	}
	if !model.ValidRiskLevel(riskLevel) {
		return model.AiAssessment{}, eris.Wrapf(ErrMalformedResponse, "unknown riskLevel %q", riskLevel)
	}

	var rationale string
	if err := json.Unmarshal(fields["rationale"], &rationale); err != nil {
		return model.AiAssessment{}, eris.Wrap(ErrMalformedResponse, "rationale not a string")
	}

	return model.AiAssessment{
		Score:     score,
		RiskLevel: model.RiskLevel(riskLevel),
		Rationale: rationale,
		Qualified: score > 60,
	}, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite the pure-JSON instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
