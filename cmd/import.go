package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/internal/pipeline"
)

var (
	importJSON  bool
	importState string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a bill of quantities and reconcile it against the catalog",
	Long:  "Extracts line items from a BOQ document (PDF, CSV, XLSX or plain text) and matches each against the reference material catalog. Items without a defensible match are flagged for review.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, importState)
		if err != nil {
			return err
		}
		defer env.Close()

		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		res, err := env.Pipeline.ImportDocument(ctx, data, "", filepath.Base(path), "cli")
		if err != nil {
			// Partial results still print so already-extracted chunks
			// are not lost to a late halt.
			if res != nil && len(res.Materials) > 0 {
				printImportResult(res)
				fmt.Fprintf(os.Stderr, "\nimport halted after %d/%d chunks\n", res.ChunksDone, res.ChunksTotal)
			}
			return err
		}

		printImportResult(res)
		return nil
	},
}

func printImportResult(res *pipeline.Result) {
	if importJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res) //nolint:errcheck
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tQTY\tUNIT\tFACTOR\tMATCH\tCONFIDENCE\tREVIEW")
	for _, m := range res.Materials {
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			m.Name, m.Quantity, m.Unit,
			factorCol(m.Factor), m.MatchType, m.Confidence, reviewCol(m))
	}
	w.Flush() //nolint:errcheck

	fmt.Printf("\n%d item(s) from %d chunk(s)\n", len(res.Materials), res.ChunksDone)
	for _, warn := range res.Warnings {
		fmt.Printf("warning: %s\n", warn)
	}
}

func factorCol(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *f)
}

func reviewCol(m model.ValidatedLineItem) string {
	if !m.RequiresReview {
		return ""
	}
	return m.ReviewReason
}

func init() {
	importCmd.Flags().BoolVar(&importJSON, "json", false, "print the full result as JSON")
	importCmd.Flags().StringVar(&importState, "state", "", "restrict the catalog to one state's factors (e.g. NSW)")
	rootCmd.AddCommand(importCmd)
}
