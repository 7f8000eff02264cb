package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/myotronics/k7sweep/internal/monitoring"
	"github.com/myotronics/k7sweep/internal/sweep"
	"github.com/myotronics/k7sweep/internal/timeutil"
)

// Reader turns the raw byte stream into averaged samples.
type Reader struct {
	src   io.Reader
	queue *sweep.Queue
	clock timeutil.Clock

	chunks  atomic.Uint64
	invalid atomic.Uint64
}

// NewReader creates a reader offering samples to queue.
func NewReader(src io.Reader, queue *sweep.Queue, clock timeutil.Clock) *Reader {
	return &Reader{src: src, queue: queue, clock: clock}
}

// Stats reports how many chunks were read and how many held no valid block.
func (r *Reader) Stats() (chunks, invalid uint64) {
	return r.chunks.Load(), r.invalid.Load()
}

// Run reads ReadSize chunks until the source ends or ctx is cancelled. Each
// chunk becomes one sample stamped with the clock. The queue is closed on
// return. Cancelling ctx does not interrupt a blocked read; close the port
// to unblock it. Read errors after cancellation end the run cleanly.
func (r *Reader) Run(ctx context.Context) error {
	defer r.queue.Close()
	buf := make([]byte, ReadSize)
	for {
		if err := r.fill(ctx, buf); err != nil {
			// A port closed during shutdown fails the blocked read.
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				monitoring.Logf("sensor: stream ended after %d chunks", r.chunks.Load())
				return nil
			}
			return fmt.Errorf("read sensor: %w", err)
		}
		r.chunks.Add(1)

		frontal, sagittal, ok := Average(buf)
		if !ok {
			r.invalid.Add(1)
			monitoring.Debugf("sensor: chunk without a valid frame")
			continue
		}
		if !r.queue.Offer(sweep.Sample{Time: r.clock.Now(), Frontal: frontal, Sagittal: sagittal}) {
			monitoring.Debugf("sensor: queue full, sample dropped (%d total)", r.queue.Dropped())
		}
	}
}

// fill reads a full chunk. Zero-length reads are read timeouts and only
// give ctx a chance to stop the loop.
func (r *Reader) fill(ctx context.Context, buf []byte) error {
	n := 0
	for n < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := r.src.Read(buf[n:])
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 && n < len(buf) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// Simulator writes synthetic sensor frames describing a slow sine sweep, for
// running without hardware.
type Simulator struct {
	clock     timeutil.Clock
	period    time.Duration
	amplitude float64
	cycle     time.Duration
}

// NewSimulator writes one chunk every period.
func NewSimulator(clock timeutil.Clock, period time.Duration) *Simulator {
	return &Simulator{clock: clock, period: period, amplitude: 30, cycle: 8 * time.Second}
}

// Angles returns the simulated pose at elapsed time d.
func (s *Simulator) Angles(d time.Duration) (frontal, sagittal float64) {
	phase := 2 * math.Pi * d.Seconds() / s.cycle.Seconds()
	return s.amplitude * math.Sin(phase), s.amplitude / 2 * math.Cos(phase)
}

// Chunk encodes ReadSize bytes of frames for the pose at d.
func (s *Simulator) Chunk(d time.Duration) []byte {
	f, sg := s.Angles(d)
	block := EncodeBlock(f, sg)
	out := make([]byte, 0, ReadSize)
	for len(out) < ReadSize {
		out = append(out, block[:]...)
	}
	return out
}

// Run writes chunks to w until ctx is cancelled, then closes w if it is a
// Closer so the reading side sees end of stream.
func (s *Simulator) Run(ctx context.Context, w io.Writer) error {
	if c, ok := w.(io.Closer); ok {
		defer c.Close()
	}
	start := s.clock.Now()
	t := s.clock.NewTicker(s.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C():
			if _, err := w.Write(s.Chunk(now.Sub(start))); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				return err
			}
		}
	}
}
