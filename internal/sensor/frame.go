package sensor

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// BlockSize is one sensor frame: 8 CMS bytes then 8 tilt bytes.
	BlockSize = 16
	// ReadSize is the chunk read from the port and averaged into one sample.
	ReadSize = 1600

	cmsBytes = 8
	// ScalingFactor converts radians to degrees.
	ScalingFactor = 180 / math.Pi
)

// validBlock checks the CMS sync pattern: the even bytes carry channel index
// 0..3 in their high nibble.
func validBlock(b []byte) bool {
	if len(b) < BlockSize {
		return false
	}
	for i := 0; i < cmsBytes; i += 2 {
		if b[i]>>4 != byte(i/2) {
			return false
		}
	}
	return true
}

// Resync returns the run of valid blocks starting at the first valid block in
// data. Bytes before it are skipped; the run ends at the first invalid block.
func Resync(data []byte) []byte {
	start := -1
	for i := 0; i+BlockSize <= len(data); i++ {
		if validBlock(data[i:]) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	end := start
	for end+BlockSize <= len(data) && validBlock(data[end:]) {
		end += BlockSize
	}
	return data[start:end]
}

// DecodeTilt converts the tilt half of a block into frontal and sagittal
// angles in degrees. The tilt bytes are four big-endian int16 axes.
func DecodeTilt(block []byte) (frontal, sagittal float64) {
	tilt := block[cmsBytes:BlockSize]
	c0 := float64(int16(binary.BigEndian.Uint16(tilt[0:])))
	c1 := float64(int16(binary.BigEndian.Uint16(tilt[2:])))
	c2 := float64(int16(binary.BigEndian.Uint16(tilt[4:])))

	if d := math.Hypot(c0, c2); d != 0 {
		frontal = math.Atan(c1/d) * ScalingFactor
	}
	if d := math.Hypot(c0, c1); d != 0 {
		sagittal = -math.Atan(c2/d) * ScalingFactor
	}
	return frontal, sagittal
}

// Average decodes every valid block of a chunk and returns the mean angles.
// ok is false when the chunk holds no valid block.
func Average(chunk []byte) (frontal, sagittal float64, ok bool) {
	blocks := Resync(chunk)
	n := len(blocks) / BlockSize
	if n == 0 {
		return 0, 0, false
	}
	fs := make([]float64, n)
	ss := make([]float64, n)
	for i := 0; i < n; i++ {
		fs[i], ss[i] = DecodeTilt(blocks[i*BlockSize:])
	}
	return stat.Mean(fs, nil), stat.Mean(ss, nil), true
}

const encodeScale = 8000

// EncodeBlock builds a valid block whose tilt decodes to the given angles.
// The combined tilt must stay below 90 degrees.
func EncodeBlock(frontal, sagittal float64) [BlockSize]byte {
	var b [BlockSize]byte
	for i := 0; i < cmsBytes; i += 2 {
		b[i] = byte(i/2) << 4
	}

	ta := math.Tan(frontal / ScalingFactor)
	tb := -math.Tan(sagittal / ScalingFactor)
	x0 := 1.0
	x2 := 0.0
	if den := 1 - ta*ta*tb*tb; den > 0 {
		x2 = math.Copysign(math.Sqrt(tb*tb*(1+ta*ta)/den), tb)
	}
	x1 := math.Copysign(math.Sqrt(ta*ta*(1+x2*x2)), ta)

	scale := encodeScale / math.Max(1, math.Max(math.Abs(x1), math.Abs(x2)))
	binary.BigEndian.PutUint16(b[8:], uint16(int16(math.Round(x0*scale))))
	binary.BigEndian.PutUint16(b[10:], uint16(int16(math.Round(x1*scale))))
	binary.BigEndian.PutUint16(b[12:], uint16(int16(math.Round(x2*scale))))
	return b
}
