package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/model"
)

var materialsCmd = &cobra.Command{
	Use:   "materials",
	Short: "Manage the reference material catalog",
}

var materialsLoadCmd = &cobra.Command{
	Use:   "load <file>...",
	Short: "Load reference materials from CSV/XLSX exports into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		materials, err := readMaterialFiles(ctx, args)
		if err != nil {
			return err
		}

		n, err := st.UpsertMaterials(ctx, materials)
		if err != nil {
			return eris.Wrap(err, "upsert materials")
		}

		fmt.Printf("loaded %d material(s) from %d file(s)\n", n, len(args))
		return nil
	},
}

var materialsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog size",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		count, err := st.CountMaterials(ctx)
		if err != nil {
			return eris.Wrap(err, "count materials")
		}

		fmt.Printf("%d reference material(s) in the %s store\n", count, cfg.Store.Driver)
		return nil
	},
}

// readMaterialFiles parses every export in parallel. A parse failure in
// any file fails the whole load: partial catalog updates are worse than
// a clean retry.
func readMaterialFiles(ctx context.Context, paths []string) ([]model.ReferenceMaterial, error) {
	var (
		mu  sync.Mutex
		out []model.ReferenceMaterial
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			materials, err := readMaterialFile(path)
			if err != nil {
				return err
			}
			zap.L().Info("parsed material export",
				zap.String("file", path),
				zap.Int("materials", len(materials)),
			)

			mu.Lock()
			out = append(out, materials...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readMaterialFile(path string) ([]model.ReferenceMaterial, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return catalog.ReadCSV(f)
	case ".xlsx":
		return catalog.ReadXLSX(path)
	default:
		return nil, eris.Errorf("unsupported material export %q (want .csv or .xlsx)", path)
	}
}

func init() {
	materialsCmd.AddCommand(materialsLoadCmd)
	materialsCmd.AddCommand(materialsStatusCmd)
	rootCmd.AddCommand(materialsCmd)
}
