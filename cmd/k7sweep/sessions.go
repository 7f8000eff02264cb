package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/myotronics/k7sweep/internal/catalog"
	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/sweep"
)

var (
	listScanType string
	listFilter   string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and index archived sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var f catalog.Filter
		if listScanType != "" {
			st, err := sweep.ParseScanType(listScanType)
			if err != nil {
				return err
			}
			f.ScanType = &st
		}
		if cmd.Flags().Changed("filter") {
			f.ExtraFilter = &listFilter
		}

		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		entries, err := cat.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCAN\tFILTER\tSAMPLES\tDURATION\tFRONTAL\tSAGITTAL")
		for _, e := range entries {
			r := e.Summary.Range
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1f..%.1f\t%.1f..%.1f\n",
				e.Name, e.ScanType.Label(), e.ExtraFilter, e.Summary.Count,
				e.Summary.Duration.Round(10*time.Millisecond),
				r.FrontalMin, r.FrontalMax, r.SagittalMin, r.SagittalMax)
		}
		return w.Flush()
	},
}

var sessionsReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the session index from the archive directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(fsutil.OSFileSystem{}, cfg)
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		n, err := cat.Reindex(cmd.Context(), store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d sessions from %s\n", n, store.Dir())
		return nil
	},
}

var sessionsRemoveCmd = &cobra.Command{
	Use:   "remove <session>",
	Short: "Delete an archived session and its index entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(fsutil.OSFileSystem{}, cfg)
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		if err := store.Remove(args[0]); err != nil {
			return err
		}
		if err := cat.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&listScanType, "scan-type", "", "only sessions of this scan type")
	sessionsListCmd.Flags().StringVar(&listFilter, "filter", "", "only sessions with this extra filter tag")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsReindexCmd)
	sessionsCmd.AddCommand(sessionsRemoveCmd)
}
