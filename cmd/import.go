package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/antenna-proximity/internal/dataset"
	"github.com/sells-group/antenna-proximity/internal/geo"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import antennas and broadcast contours into the store",
	Long: `Loads an antenna list (CSV, XLSX, JSON, or a ZIP holding one of them) and a
contour shapefile (.shp, or a zipped shapefile) into the configured store.
Sources may be local paths or http(s)/ftp URLs. Both imports run concurrently;
either may be omitted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := importOptions{
			Antennas: cfg.Antennas.Source,
			Contours: cfg.Contour.Source,
			Country:  model.ParseCountry(cfg.Antennas.Country),
			Sheet:    cfg.Antennas.Sheet,
			TempDir:  cfg.Contour.TempDir,
		}
		if v, _ := cmd.Flags().GetString("antennas"); v != "" {
			opts.Antennas = v
		}
		if v, _ := cmd.Flags().GetString("contours"); v != "" {
			opts.Contours = v
		}
		if v, _ := cmd.Flags().GetString("country"); v != "" {
			opts.Country = model.ParseCountry(v)
		}
		if v, _ := cmd.Flags().GetString("sheet"); v != "" {
			opts.Sheet = v
		}
		opts.Strict, _ = cmd.Flags().GetBool("strict")

		if opts.Antennas == "" && opts.Contours == "" {
			return eris.New("import: nothing to import (set --antennas and/or --contours)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := runImport(ctx, st, newFetcher(cfg), opts)
		if err != nil {
			return err
		}

		fmt.Printf("imported %d antennas, %d contours\n", res.Antennas, res.Contours)
		return nil
	},
}

func init() {
	importCmd.Flags().String("antennas", "", "antenna list path or URL (default: antennas.source)")
	importCmd.Flags().String("contours", "", "contour shapefile path or URL (default: contour.source)")
	importCmd.Flags().String("country", "", "country for rows without one (default: antennas.country)")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")
	importCmd.Flags().Bool("strict", false, "fail on the first malformed antenna row")
	rootCmd.AddCommand(importCmd)
}

type importOptions struct {
	Antennas string
	Contours string
	Country  model.Country
	Sheet    string
	TempDir  string
	Strict   bool
}

type importResult struct {
	Antennas int64
	Contours int
}

// runImport loads the antenna list and the contour shapefile concurrently.
func runImport(ctx context.Context, st store.Store, src dataset.Opener, opts importOptions) (importResult, error) {
	log := zap.L().With(zap.String("command", "import"))

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
		return importResult{}, eris.Wrap(err, "import: create temp dir")
	}

	var res importResult
	g, gctx := errgroup.WithContext(ctx)

	if opts.Antennas != "" {
		g.Go(func() error {
			antennas, err := dataset.ReadAntennas(gctx, src, opts.Antennas, dataset.AntennaOptions{
				Country: opts.Country,
				Sheet:   opts.Sheet,
				TempDir: opts.TempDir,
				Strict:  opts.Strict,
			})
			if err != nil {
				return eris.Wrap(err, "import: read antennas")
			}
			n, err := st.UpsertAntennas(gctx, antennas)
			if err != nil {
				return eris.Wrap(err, "import: store antennas")
			}
			res.Antennas = n
			log.Info("antennas imported", zap.String("source", opts.Antennas), zap.Int64("rows", n))
			return nil
		})
	}

	if opts.Contours != "" {
		g.Go(func() error {
			shpPath, err := geo.FetchShapefile(gctx, src, opts.Contours, opts.TempDir)
			if err != nil {
				return eris.Wrap(err, "import: fetch contours")
			}
			n, err := geo.ReadContours(shpPath, func(id model.AntennaID, c *geo.Contour) error {
				if err := gctx.Err(); err != nil {
					return err
				}
				data, err := c.EWKB()
				if err != nil {
					return eris.Wrapf(err, "import: encode contour %s", id)
				}
				return st.UpsertContour(gctx, id, data)
			})
			if err != nil {
				return eris.Wrap(err, "import: store contours")
			}
			res.Contours = n
			log.Info("contours imported", zap.String("source", opts.Contours), zap.Int("contours", n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return importResult{}, err
	}
	return res, nil
}
