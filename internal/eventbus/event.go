// Package eventbus is the single-slot mailbox other processes use to request
// transitions from the sweep engine, plus the shared flags they read back.
package eventbus

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when an event name is not recognised.
var ErrUnknownKind = errors.New("unknown event kind")

// Kind identifies an event.
type Kind int

const (
	ToggleRecording Kind = iota + 1
	UserRecordSaved
	CMSPlaybackRequest
	CMSStartPlayback
	MarkRedrawTool
)

var kindNames = map[Kind]string{
	ToggleRecording:    "toggle-recording",
	UserRecordSaved:    "user-record-saved",
	CMSPlaybackRequest: "cms-recording-playback-request",
	CMSStartPlayback:   "cms-start-playback",
	MarkRedrawTool:     "mark-redraw-tool",
}

// Names written by older front ends.
var legacyKinds = map[string]Kind{
	"cms-playback": CMSPlaybackRequest,
	"playback":     CMSStartPlayback,
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	if k, ok := legacyKinds[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Kinds lists every kind in wire order.
func Kinds() []Kind {
	return []Kind{ToggleRecording, UserRecordSaved, CMSPlaybackRequest, CMSStartPlayback, MarkRedrawTool}
}

// Overrides reports whether k may replace an event still pending in the slot.
func (k Kind) Overrides() bool {
	switch k {
	case ToggleRecording, UserRecordSaved, MarkRedrawTool:
		return true
	}
	return false
}

func (k Kind) MarshalText() ([]byte, error) {
	n, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(n), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Event is a request with its payload, typically a filter tag.
type Event struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload,omitempty"`
}
