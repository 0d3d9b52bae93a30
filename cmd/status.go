package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/antenna-proximity/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the store holds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, nil, nil, nil).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		return printStatus(os.Stdout, format, cfg.Store.Driver, snap)
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Driver   string `json:"driver" yaml:"driver"`
	Antennas int    `json:"antennas" yaml:"antennas"`
	Contours int    `json:"contours" yaml:"contours"`
	Coverage string `json:"contour_coverage" yaml:"contour_coverage"`
}

func printStatus(w io.Writer, format, driver string, snap *monitoring.Snapshot) error {
	rep := statusReport{
		Driver:   driver,
		Antennas: snap.StoredAntennas,
		Contours: snap.StoredContours,
		Coverage: "n/a",
	}
	if snap.StoredAntennas > 0 {
		rep.Coverage = fmt.Sprintf("%.1f%%", 100*float64(snap.StoredContours)/float64(snap.StoredAntennas))
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		_, err := fmt.Fprintf(w, "Store:    %s\nAntennas: %d\nContours: %d (%s of antennas)\n",
			rep.Driver, rep.Antennas, rep.Contours, rep.Coverage)
		return err
	default:
		return eris.Errorf("unsupported output format %q (text, json, yaml)", format)
	}
}
