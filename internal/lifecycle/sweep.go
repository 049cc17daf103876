package lifecycle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/notify"
)

// SweepStale moves leads stuck in Qualified or IntakeQueued past the
// staleness window to the Stale terminal. Driven by an external scheduler,
// never by decay inside the machine. Sweeping twice is harmless: a lead
// already moved by a concurrent sweep loses the conditional write and is
// skipped. Returns the number of leads swept.
func (m *Machine) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.now().Add(-olderThan)

	stale, err := m.store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "lifecycle: list stale")
	}

	swept := 0
	for i := range stale {
		lead := &stale[i]
		if err := m.transition(ctx, lead, lead.State, model.LeadStateStale, EventStaleSweep); err != nil {
			var ite *IllegalTransitionError
			if eris.As(err, &ite) {
				continue // concurrent sweep or staff action won
			}
			return swept, err
		}
		swept++

		m.dispatcher.Notify(ctx, notify.Event{
			Kind:     "lead_stale",
			Severity: notify.SeverityInfo,
			LeadID:   lead.ID,
			County:   lead.Record.County,
			Summary:  lead.Record.FullName + " went stale without processing",
		})
	}

	if swept > 0 {
		zap.L().Info("lifecycle: staleness sweep complete",
			zap.Int("swept", swept),
			zap.Int("candidates", len(stale)),
			zap.Time("cutoff", cutoff),
		)
	}
	return swept, nil
}
