package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/myotronics/k7sweep/internal/catalog"
	"github.com/myotronics/k7sweep/internal/config"
	"github.com/myotronics/k7sweep/internal/engine"
	"github.com/myotronics/k7sweep/internal/eventbus"
	"github.com/myotronics/k7sweep/internal/fsutil"
	"github.com/myotronics/k7sweep/internal/monitoring"
	"github.com/myotronics/k7sweep/internal/sensor"
	"github.com/myotronics/k7sweep/internal/sessionstore"
	"github.com/myotronics/k7sweep/internal/sweep"
	"github.com/myotronics/k7sweep/internal/timeutil"
)

const serialReadTimeout = 200 * time.Millisecond

var simulate bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture engine",
	Long: `Run identifies the sensor, then ticks the capture engine until the
event bus raises exit_thread or the process is interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runEngine(ctx, cfg, simulate)
	},
}

func init() {
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "generate a synthetic sweep instead of opening the sensor")
}

func openStore(fsys fsutil.FileSystem, cfg *config.AppConfig) (*sessionstore.Store, error) {
	dir, err := cfg.ArchiveDir()
	if err != nil {
		return nil, err
	}
	return sessionstore.New(fsys, dir), nil
}

func openCatalog(cfg *config.AppConfig) (*catalog.Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.CatalogPath), 0o755); err != nil {
		return nil, err
	}
	return catalog.Open(cfg.CatalogPath)
}

// openSource returns the byte stream of tilt frames and a function that
// unblocks and releases it.
func openSource(ctx context.Context, g *errgroup.Group, cfg *config.AppConfig, clock timeutil.Clock, simulate bool) (io.Reader, func(), error) {
	if simulate {
		if _, err := sensor.Handshake(sensor.NewSimulatedSensor()); err != nil {
			return nil, nil, err
		}
		pr, pw := io.Pipe()
		sim := sensor.NewSimulator(clock, 100*time.Millisecond)
		g.Go(func() error { return sim.Run(ctx, pw) })
		return pr, func() { pr.Close() }, nil
	}

	port, err := sensor.Open(cfg.Serial.Port, sensor.PortOptions{Slow: cfg.Serial.SlowBaud, ReadTimeout: serialReadTimeout})
	if err != nil {
		return nil, nil, err
	}
	reply, err := sensor.Handshake(port)
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	monitoring.Logf("sensor: %s on %s", reply, cfg.Serial.Port)
	return port, func() { port.Close() }, nil
}

func runEngine(ctx context.Context, cfg *config.AppConfig, simulate bool) error {
	fsys := fsutil.OSFileSystem{}
	clock := timeutil.RealClock{}

	store, err := openStore(fsys, cfg)
	if err != nil {
		return err
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()
	store.SetIndexer(cat)

	bus, err := eventbus.Open(fsys, cfg.StateDir, true)
	if err != nil {
		return err
	}

	session, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	rec := sweep.NewRecorder(clock, sweep.NewDisplayState(),
		sweep.WithDefaults(session),
		sweep.WithModeFlag(func() (bool, error) { return config.LoadModeType(fsys, cfg.ModeTypePath) }),
	)
	queue := sweep.NewQueue(cfg.QueueSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	src, release, err := openSource(gctx, g, cfg, clock, simulate)
	if err != nil {
		return err
	}
	reader := sensor.NewReader(src, queue, clock)
	g.Go(func() error { return reader.Run(gctx) })

	var lastStatus string
	eng := engine.New(rec, queue, bus, store, sweep.NewStager(store), engine.Options{
		Clock:         clock,
		Period:        cfg.TickInterval,
		PlaybackSpeed: cfg.PlaybackSpeed,
		Render: func(f sweep.Frame) {
			if f.Status != lastStatus {
				lastStatus = f.Status
				monitoring.Logf("status: %s (%d samples)", f.Status, f.Live.Len())
			}
		},
	})

	g.Go(func() error {
		defer release()
		defer cancel()
		return eng.Run(gctx)
	})

	err = g.Wait()
	chunks, invalid := reader.Stats()
	monitoring.Logf("sensor: %d chunks read, %d invalid, %d samples dropped", chunks, invalid, queue.Dropped())
	return err
}
