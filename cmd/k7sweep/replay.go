package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
)

var (
	replaySpeed   float64
	replayFast    bool
	replaySummary bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <session>",
	Short: "Replay an archived session as CSV",
	Long: `Replay steps a saved session through the playback clock and prints
one CSV row per emitted sample. A bare name is looked up in the patient
archive; anything with a path separator is read directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := loadRecord(args[0])
		if err != nil {
			return err
		}
		opts := sweep.PlaybackOptions{Speed: replaySpeed, FastReplay: replayFast, WithSummary: replaySummary}
		return writeReplay(cmd.OutOrStdout(), rec, opts)
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1, "playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayFast, "fast", false, "emit the whole session on the first tick")
	replayCmd.Flags().BoolVar(&replaySummary, "summary", false, "print a summary after the samples")
}

func loadRecord(arg string) (sweep.Record, error) {
	if strings.ContainsRune(arg, os.PathSeparator) {
		data, err := os.ReadFile(arg)
		if err != nil {
			return sweep.Record{}, err
		}
		return sessionstore.Decode(data)
	}
	store, err := openStore(fsutil.OSFileSystem{}, cfg)
	if err != nil {
		return sweep.Record{}, err
	}
	return store.Load(arg)
}

// writeReplay runs a Player over rec to exhaustion. Rows carry the tick the
// sample was released on and its offset from the first sample.
func writeReplay(out io.Writer, rec sweep.Record, opts sweep.PlaybackOptions) error {
	p, err := sweep.NewPlayer(rec.Buffers, opts)
	if err != nil {
		return err
	}
	start := rec.Buffers.Frontal.Times[0]

	w := csv.NewWriter(out)
	w.Write([]string{"tick", "offset_ms", "frontal", "sagittal"})

	var played sweep.Buffers
	for tick := 1; ; tick++ {
		before := played.Len()
		done := p.Step(&played, nil)
		for i := before; i < played.Len(); i++ {
			s := played.At(i)
			w.Write([]string{
				strconv.Itoa(tick),
				strconv.FormatInt(s.Time.Sub(start).Milliseconds(), 10),
				strconv.FormatFloat(s.Frontal, 'f', 3, 64),
				strconv.FormatFloat(s.Sagittal, 'f', 3, 64),
			})
		}
		if done {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if opts.WithSummary {
		s := played.Summarize()
		fmt.Fprintf(out, "# %s %q: %d samples over %s, mean frontal %.2f sagittal %.2f\n",
			rec.ScanType.Label(), rec.ExtraFilter, s.Count, s.Duration.Round(time.Millisecond),
			s.FrontalMean, s.SagittalMean)
	}
	return nil
}
