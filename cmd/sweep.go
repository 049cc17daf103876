package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shamrock-bonds/lead-pipeline/internal/lifecycle"
	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/notify"
	"github.com/shamrock-bonds/lead-pipeline/internal/scorer"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
	"github.com/shamrock-bonds/lead-pipeline/pkg/notion"
)

var sweepOlderThan time.Duration

// The sweep only needs the store and the machine; no oracle, sink, or
// validator is constructed.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Move leads stuck in Qualified or IntakeQueued to Stale",
	Long:  "Run once per scheduler tick (cron). Idempotent: a lead already swept by a concurrent run is skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		olderThan := sweepOlderThan
		if olderThan == 0 {
			olderThan = cfg.Sweep.StaleAfter()
		}

		machine := lifecycle.New(st, scorer.New(cfg.Scoring), nil, notify.FromConfig(cfg.Notify))
		swept, err := machine.SweepStale(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Swept %d stale leads (window %s)\n", swept, olderThan)

		if cfg.Intake.NotionToken != "" && cfg.Intake.QueueDB != "" {
			flipped, err := reconcileIntake(cmd.Context(), st)
			if err != nil {
				return err
			}
			fmt.Printf("Reconciled %d intake pages\n", flipped)
		}
		return nil
	},
}

// reconcileIntake flips worklist pages still Queued in Notion whose lead was
// already approved, repairing write-backs the webhook path missed.
func reconcileIntake(ctx context.Context, st store.Store) (int, error) {
	queue := notion.NewIntakeQueue(notion.NewClient(cfg.Intake.NotionToken), cfg.Intake.QueueDB)
	return queue.ReconcileProcessed(ctx, time.Now(), func(ctx context.Context, pageID string) (bool, error) {
		lead, err := st.GetLeadByIntakeRef(ctx, pageID)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				// Page created before refs were persisted; leave it for staff.
				return false, nil
			}
			return false, err
		}
		return lead.State == model.LeadStateProcessed, nil
	})
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "staleness window (default from config)")
	rootCmd.AddCommand(sweepCmd)
}
