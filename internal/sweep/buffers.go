// Package sweep holds the capture, recording and playback engine for the K7
// sweep graph: live buffers, the recording session controller, playback
// reconstruction and snapshot staging.
package sweep

import (
	"errors"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrOutOfOrder is returned when a sample is older than the newest stored one.
var ErrOutOfOrder = errors.New("sample timestamp precedes buffer tail")

// Sample is one reading of both angular channels, in degrees.
type Sample struct {
	Time     time.Time
	Frontal  float64
	Sagittal float64
}

// ChannelBuffer is the time series of a single channel. Times and Values
// always have the same length and Times never decreases.
type ChannelBuffer struct {
	Times  []time.Time
	Values []float64
}

// Len returns the number of points.
func (c *ChannelBuffer) Len() int { return len(c.Times) }

// Append adds a point at the tail.
func (c *ChannelBuffer) Append(t time.Time, v float64) error {
	if n := len(c.Times); n > 0 && t.Before(c.Times[n-1]) {
		return ErrOutOfOrder
	}
	c.Times = append(c.Times, t)
	c.Values = append(c.Values, v)
	return nil
}

// DropFront removes the first n points.
func (c *ChannelBuffer) DropFront(n int) {
	if n <= 0 {
		return
	}
	if n >= len(c.Times) {
		c.Times, c.Values = nil, nil
		return
	}
	c.Times = append([]time.Time(nil), c.Times[n:]...)
	c.Values = append([]float64(nil), c.Values[n:]...)
}

// Clone returns a deep copy.
func (c ChannelBuffer) Clone() ChannelBuffer {
	out := ChannelBuffer{}
	if len(c.Times) > 0 {
		out.Times = append([]time.Time(nil), c.Times...)
		out.Values = append([]float64(nil), c.Values...)
	}
	return out
}

// Valid reports whether the buffer satisfies its length and ordering invariant.
func (c ChannelBuffer) Valid() bool {
	if len(c.Times) != len(c.Values) {
		return false
	}
	for i := 1; i < len(c.Times); i++ {
		if c.Times[i].Before(c.Times[i-1]) {
			return false
		}
	}
	return true
}

// Buffers are the two channel series of a session. Samples are appended to
// both channels together so index i of each refers to the same reading.
type Buffers struct {
	Frontal  ChannelBuffer
	Sagittal ChannelBuffer
}

// Len returns the number of complete samples.
func (b *Buffers) Len() int {
	return min(b.Frontal.Len(), b.Sagittal.Len())
}

// Append adds a sample to both channels or to neither.
func (b *Buffers) Append(s Sample) error {
	if err := b.Frontal.Append(s.Time, s.Frontal); err != nil {
		return err
	}
	if err := b.Sagittal.Append(s.Time, s.Sagittal); err != nil {
		b.Frontal.Times = b.Frontal.Times[:len(b.Frontal.Times)-1]
		b.Frontal.Values = b.Frontal.Values[:len(b.Frontal.Values)-1]
		return err
	}
	return nil
}

// At returns sample i.
func (b *Buffers) At(i int) Sample {
	return Sample{Time: b.Frontal.Times[i], Frontal: b.Frontal.Values[i], Sagittal: b.Sagittal.Values[i]}
}

// Samples flattens the buffers into a slice of samples.
func (b *Buffers) Samples() []Sample {
	n := b.Len()
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.At(i))
	}
	return out
}

// Reset empties both channels.
func (b *Buffers) Reset() {
	*b = Buffers{}
}

// TrimBefore drops every sample older than cutoff.
func (b *Buffers) TrimBefore(cutoff time.Time) {
	n := 0
	for n < b.Len() && b.Frontal.Times[n].Before(cutoff) {
		n++
	}
	b.Frontal.DropFront(n)
	b.Sagittal.DropFront(n)
}

// Clone returns a deep copy.
func (b Buffers) Clone() Buffers {
	return Buffers{Frontal: b.Frontal.Clone(), Sagittal: b.Sagittal.Clone()}
}

// Valid reports whether both channels hold their invariant and have equal length.
func (b Buffers) Valid() bool {
	return b.Frontal.Valid() && b.Sagittal.Valid() && b.Frontal.Len() == b.Sagittal.Len()
}

// Duration is the span between the first and last sample.
func (b *Buffers) Duration() time.Duration {
	n := b.Len()
	if n < 2 {
		return 0
	}
	return b.Frontal.Times[n-1].Sub(b.Frontal.Times[0])
}

// Range holds per-channel extremes.
type Range struct {
	FrontalMin, FrontalMax   float64
	SagittalMin, SagittalMax float64
}

// Range returns the extremes of both channels; ok is false when empty.
func (b *Buffers) Range() (r Range, ok bool) {
	if b.Len() == 0 {
		return Range{}, false
	}
	return Range{
		FrontalMin:  floats.Min(b.Frontal.Values),
		FrontalMax:  floats.Max(b.Frontal.Values),
		SagittalMin: floats.Min(b.Sagittal.Values),
		SagittalMax: floats.Max(b.Sagittal.Values),
	}, true
}

// Summary describes a session for the review table.
type Summary struct {
	Count        int
	Duration     time.Duration
	Range        Range
	FrontalMean  float64
	SagittalMean float64
}

// Summarize computes count, duration, extremes and means.
func (b *Buffers) Summarize() Summary {
	s := Summary{Count: b.Len(), Duration: b.Duration()}
	if r, ok := b.Range(); ok {
		s.Range = r
		s.FrontalMean = stat.Mean(b.Frontal.Values, nil)
		s.SagittalMean = stat.Mean(b.Sagittal.Values, nil)
	}
	return s
}
