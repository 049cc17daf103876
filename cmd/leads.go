package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
	"github.com/shamrock-bonds/lead-pipeline/internal/store"
)

var (
	leadsState  string
	leadsCounty string
	leadsBucket string
	leadsLimit  int
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		leads, err := st.ListLeads(cmd.Context(), store.LeadFilter{
			State:  model.LeadState(leadsState),
			County: leadsCounty,
			Bucket: model.Bucket(leadsBucket),
			Limit:  leadsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCOUNTY\tBOOKING\tSCORE\tBUCKET\tSTATE\tALERTED")
		for _, l := range leads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%v\n",
				l.ID, l.Record.FullName, l.Record.County, l.Record.BookingNumber,
				l.Score, l.Bucket, l.State, l.Alerted)
		}
		return w.Flush()
	},
}

var leadShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show one lead with its transition history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		lead, err := st.GetLead(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		transitions, err := st.ListTransitions(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Lead        *model.Lead        `json:"lead"`
			Transitions []model.Transition `json:"transitions"`
		}{lead, transitions})
	},
}

func init() {
	leadsCmd.Flags().StringVar(&leadsState, "state", "", "filter by state")
	leadsCmd.Flags().StringVar(&leadsCounty, "county", "", "filter by county")
	leadsCmd.Flags().StringVar(&leadsBucket, "bucket", "", "filter by bucket")
	leadsCmd.Flags().IntVar(&leadsLimit, "limit", 50, "max rows")
	leadsCmd.AddCommand(leadShowCmd)
	rootCmd.AddCommand(leadsCmd)
}
