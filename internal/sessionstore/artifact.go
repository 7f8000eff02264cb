package sessionstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/myotronics/k7sweep/internal/sweep"
)

// FormatVersion names the artifact layout. Bump it on incompatible changes;
// each version is archived in its own directory.
const FormatVersion = "2.0"

// ErrCorrupt is returned for artifacts that cannot be decoded.
var ErrCorrupt = errors.New("corrupt session artifact")

var magic = []byte("K7SW")

var (
	encoder = mustEncoder()
	decoder = mustDecoder()
)

func mustEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(err)
	}
	return enc
}

func mustDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic(err)
	}
	return dec
}

type channelDoc struct {
	T []int64   `json:"t"`
	V []float64 `json:"v"`
}

type artifactDoc struct {
	FormatVersion string         `json:"format_version"`
	ScanType      sweep.ScanType `json:"scan_type"`
	ExtraFilter   string         `json:"extra_filter,omitempty"`
	SavedAt       time.Time      `json:"saved_at"`
	Frontal       channelDoc     `json:"frontal"`
	Sagittal      channelDoc     `json:"sagittal"`
}

func encodeChannel(c sweep.ChannelBuffer) channelDoc {
	d := channelDoc{T: make([]int64, len(c.Times)), V: append([]float64{}, c.Values...)}
	for i, t := range c.Times {
		d.T[i] = t.UnixNano()
	}
	return d
}

func decodeChannel(d channelDoc) (sweep.ChannelBuffer, error) {
	if len(d.T) != len(d.V) {
		return sweep.ChannelBuffer{}, fmt.Errorf("%d times for %d values", len(d.T), len(d.V))
	}
	var c sweep.ChannelBuffer
	for i, ns := range d.T {
		if err := c.Append(time.Unix(0, ns).UTC(), d.V[i]); err != nil {
			return sweep.ChannelBuffer{}, fmt.Errorf("point %d: %w", i, err)
		}
	}
	return c, nil
}

// Encode serialises a record as a session artifact.
func Encode(rec sweep.Record) ([]byte, error) {
	doc := artifactDoc{
		FormatVersion: FormatVersion,
		ScanType:      rec.ScanType,
		ExtraFilter:   rec.ExtraFilter,
		SavedAt:       rec.SavedAt.UTC(),
		Frontal:       encodeChannel(rec.Buffers.Frontal),
		Sagittal:      encodeChannel(rec.Buffers.Sagittal),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	out := make([]byte, 0, len(magic)+len(raw)/4)
	out = append(out, magic...)
	return encoder.EncodeAll(raw, out), nil
}

// Decode parses a session artifact. Any failure wraps ErrCorrupt.
func Decode(data []byte) (sweep.Record, error) {
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return sweep.Record{}, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	raw, err := decoder.DecodeAll(data[len(magic):], nil)
	if err != nil {
		return sweep.Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var doc artifactDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return sweep.Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if doc.FormatVersion == "" {
		return sweep.Record{}, fmt.Errorf("%w: missing format version", ErrCorrupt)
	}
	frontal, err := decodeChannel(doc.Frontal)
	if err != nil {
		return sweep.Record{}, fmt.Errorf("%w: frontal: %w", ErrCorrupt, err)
	}
	sagittal, err := decodeChannel(doc.Sagittal)
	if err != nil {
		return sweep.Record{}, fmt.Errorf("%w: sagittal: %w", ErrCorrupt, err)
	}
	if frontal.Len() != sagittal.Len() {
		return sweep.Record{}, fmt.Errorf("%w: channel lengths %d and %d differ", ErrCorrupt, frontal.Len(), sagittal.Len())
	}
	return sweep.Record{
		ScanType:    doc.ScanType,
		ExtraFilter: doc.ExtraFilter,
		SavedAt:     doc.SavedAt,
		Buffers:     sweep.Buffers{Frontal: frontal, Sagittal: sagittal},
	}, nil
}
