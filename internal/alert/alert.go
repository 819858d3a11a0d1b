package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sitewatch/internal/geometry"
)

// Kind classifies what triggered an alert
type Kind int

const (
	// KindEquipment - someone is missing protective equipment
	KindEquipment Kind = iota
	// KindBreach - someone entered the restricted zone
	KindBreach
	// KindBoth - zone breach and missing equipment in the same frame
	KindBoth
	// KindRoutine - periodic general hazard scan
	KindRoutine
)

func (k Kind) String() string {
	switch k {
	case KindEquipment:
		return "equipment"
	case KindBreach:
		return "breach"
	case KindBoth:
		return "both"
	case KindRoutine:
		return "routine"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsViolation reports whether the kind comes from the violation counter
func (k Kind) IsViolation() bool {
	return k != KindRoutine
}

// Reason texts, in priority order
const (
	ReasonZoneBreach = "Restricted Zone Violation"
	ReasonNoHelmet   = "No Helmet Detected"
	ReasonRoutine    = "Routine General Hazard Scan"
	ReasonSeparator  = " + "
)

// ViolationKind derives the alert kind from the active signals.
// A zone breach is always listed first.
func ViolationKind(breach, unequipped bool) Kind {
	switch {
	case breach && unequipped:
		return KindBoth
	case breach:
		return KindBreach
	default:
		return KindEquipment
	}
}

// ComposeReason joins the active violation reasons, zone breach first
func ComposeReason(breach, unequipped bool) string {
	var parts []string
	if breach {
		parts = append(parts, ReasonZoneBreach)
	}
	if unequipped {
		parts = append(parts, ReasonNoHelmet)
	}
	return strings.Join(parts, ReasonSeparator)
}

// Alert is the value handed to every channel.
// Channels receive a copy and must treat slices as read-only.
type Alert struct {
	Kind              Kind
	Reason            string
	CameraID          string
	FrameSeq          uint64
	Timestamp         time.Time
	Frame             []byte // Raw JPEG, never annotated
	Width             int
	Height            int
	Persons           []geometry.Rect
	Equipped          []bool
	Offenders         []int
	Zone              geometry.Polygon // Pixel coordinates
	PersonCount       int
	Counter           int
	EquipmentDegraded bool
}

// Channel is one notification target
type Channel interface {
	// Name identifies the channel in logs, metrics and status
	Name() string

	// Handles reports whether the channel wants alerts of this kind
	Handles(kind Kind) bool

	// Notify delivers the alert. It runs on its own goroutine.
	Notify(ctx context.Context, a Alert) error
}

// Exclusive is implemented by channels that allow only one delivery at a time
type Exclusive interface {
	// TryAcquire marks the channel busy; false if it already was
	TryAcquire() bool

	// Release clears the busy mark
	Release()
}

// ChannelError wraps a failure of a single channel delivery
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
