package sweep

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ScanType tags what kind of sweep a session records.
type ScanType int

const (
	ScanAPPitch ScanType = iota
	ScanLatRoll
	ScanOther
	ScanCMS
)

var scanIDs = [...]string{"a_p_pitch", "lat_roll", "other", "cms_scan"}
var scanLabels = [...]string{"A/P Pitch", "Lat Roll", "Other", "CMS Scan"}

// String returns the stable wire id.
func (s ScanType) String() string {
	if s < 0 || int(s) >= len(scanIDs) {
		return fmt.Sprintf("scan(%d)", int(s))
	}
	return scanIDs[s]
}

// Label returns the operator facing name.
func (s ScanType) Label() string {
	if s < 0 || int(s) >= len(scanLabels) {
		return s.String()
	}
	return scanLabels[s]
}

// Valid reports whether s is a known scan type.
func (s ScanType) Valid() bool { return s >= 0 && int(s) < len(scanIDs) }

// ParseScanType accepts a wire id or a label, case-insensitively.
func ParseScanType(v string) (ScanType, error) {
	v = strings.TrimSpace(v)
	for i := range scanIDs {
		if strings.EqualFold(v, scanIDs[i]) || strings.EqualFold(v, scanLabels[i]) {
			return ScanType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown scan type %q", v)
}

func (s ScanType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scan type %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ScanType) UnmarshalText(b []byte) error {
	v, err := ParseScanType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// BaseWindow is the sweep window at speed 1.0.
const BaseWindow = 16 * time.Second

var (
	// Gains lists the accepted gain settings in degrees full scale.
	Gains = []int{15, 30, 45, 90}
	// Speeds lists the accepted sweep speed multipliers.
	Speeds = []float64{1.0, 2.0, 4.0}
)

// SessionConfig is the configuration a recording session starts with.
type SessionConfig struct {
	ScanType ScanType `json:"scan_type" yaml:"scan_type"`
	Gain     int      `json:"gain" yaml:"gain"`
	Speed    float64  `json:"speed" yaml:"speed"`
}

// DefaultSessionConfig returns the power-on configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{ScanType: ScanAPPitch, Gain: 45, Speed: 1.0}
}

// Window is the length of the sweep, which doubles with each speed step so
// sample density per pixel stays constant.
func (c SessionConfig) Window() time.Duration {
	return time.Duration(float64(BaseWindow) * c.Speed)
}

// Validate checks the configuration against the accepted settings.
func (c SessionConfig) Validate() error {
	if !c.ScanType.Valid() {
		return fmt.Errorf("invalid scan type %d", int(c.ScanType))
	}
	if !slices.Contains(Gains, c.Gain) {
		return fmt.Errorf("gain %d not in %v", c.Gain, Gains)
	}
	if !slices.Contains(Speeds, c.Speed) {
		return fmt.Errorf("speed %.1f not in %v", c.Speed, Speeds)
	}
	return nil
}

// Record is an archived session as handed to and read back from the store.
type Record struct {
	ScanType    ScanType
	ExtraFilter string
	SavedAt     time.Time
	Buffers     Buffers
}

// Archive persists records.
type Archive interface {
	Save(rec Record) (string, error)
}
