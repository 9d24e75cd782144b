package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terrametric/carbon-cli/internal/store"
)

var (
	recordsProject string
	recordsUser    string
	recordsLimit   int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect saved calculation records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List calculation records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRecords(ctx, store.RecordFilter{
			ProjectID: recordsProject,
			UserID:    recordsUser,
			Limit:     recordsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROJECT\tTOTAL kgCO2e\tSCOPE1\tSCOPE2\tSCOPE3\tCREATED")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%s\n",
				rec.ID, rec.ProjectID,
				rec.Totals.Total, rec.Totals.Scope1, rec.Totals.Scope2, rec.Totals.Scope3,
				rec.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one calculation record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	recordsListCmd.Flags().StringVar(&recordsProject, "project", "", "filter by project ID")
	recordsListCmd.Flags().StringVar(&recordsUser, "user", "", "filter by user ID")
	recordsListCmd.Flags().IntVar(&recordsLimit, "limit", 20, "maximum records to list")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	rootCmd.AddCommand(recordsCmd)
}
