package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wippyai/simplicity-bridge/registry"
)

type assetRow struct {
	Version    string    `json:"version"`
	Module     string    `json:"module"`
	Glue       string    `json:"glue"`
	ModuleSize int64     `json:"module_size"`
	GlueSize   int64     `json:"glue_size"`
	ModTime    time.Time `json:"mod_time"`
	Selected   bool      `json:"selected"`
}

func newAssetsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List compiler builds in the dist directory and the one in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := a.cfg.Policy()
			if err != nil {
				return err
			}
			reg := registry.New(os.DirFS(a.cfg.DistDir), policy)
			cands, err := reg.Candidates()
			if err != nil {
				return err
			}

			// a selection failure is reported in the listing
			selected, selErr := reg.Locate()
			rows := make([]assetRow, 0, len(cands))
			for _, c := range cands {
				rows = append(rows, assetRow{
					Version:    c.Version,
					Module:     c.BinaryPath,
					Glue:       c.GluePath,
					ModuleSize: c.BinarySize,
					GlueSize:   c.GlueSize,
					ModTime:    c.ModTime.UTC(),
					Selected:   selErr == nil && selected.BinaryPath == c.BinaryPath,
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tVERSION\tMODULE\tSIZE\tMODIFIED")
			for _, r := range rows {
				mark := ""
				if r.Selected {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f KB\t%s\n", mark, r.Version, r.Module, float64(r.ModuleSize)/1024, r.ModTime.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if selErr != nil {
				fmt.Fprintf(out, "\nno build selected: %v\n", selErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
