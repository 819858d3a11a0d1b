package alert

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sitewatch/internal/annotate"
	"sitewatch/internal/eventlog"
)

// Analyzer is the vision-language escalation collaborator.
// It returns a spoken-style warning, or the SafeSentinel when the scene is clear.
type Analyzer interface {
	Analyze(ctx context.Context, jpeg []byte, reason string) (string, error)
}

// Speaker renders text to speech
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// ImageSender pushes an image with a caption to a messaging service
type ImageSender interface {
	SendImage(ctx context.Context, jpeg []byte, caption string) error
}

// Spawner runs fire-and-forget work; *Dispatcher implements it
type Spawner interface {
	Go(channel string, fn func(ctx context.Context) error)
}

// SafeSentinel is the narration returned for a clear scene
const SafeSentinel = "SAFE"

// IsSafeNarration reports whether a narration is the safety-clear sentinel
func IsSafeNarration(text string) bool {
	t := strings.Trim(strings.TrimSpace(text), ".!'\"` ")
	return strings.EqualFold(t, SafeSentinel)
}

// Channel names
const (
	ChannelVision = "vision"
	ChannelSpeech = "speech"
	ChannelPush   = "push"
	ChannelLog    = "log"
)

// Narration is the latest vision escalation result
type Narration struct {
	Text      string    `json:"text"`
	Reason    string    `json:"reason"`
	Safe      bool      `json:"safe"`
	Timestamp time.Time `json:"timestamp"`
}

// VisionChannel escalates the raw frame to a vision-language model and
// speaks the returned warning. At most one analysis runs at a time.
type VisionChannel struct {
	analyzer Analyzer
	speaker  Speaker
	spawner  Spawner
	maxWidth int
	inFlight atomic.Bool
	last     Narration
	mu       sync.RWMutex
}

// NewVisionChannel creates the escalation channel.
// Frames wider than maxWidth are downscaled before upload; 0 keeps the original.
func NewVisionChannel(analyzer Analyzer, speaker Speaker, spawner Spawner, maxWidth int) *VisionChannel {
	return &VisionChannel{
		analyzer: analyzer,
		speaker:  speaker,
		spawner:  spawner,
		maxWidth: maxWidth,
	}
}

func (v *VisionChannel) Name() string { return ChannelVision }

// Handles accepts violations and routine scans
func (v *VisionChannel) Handles(Kind) bool { return true }

// TryAcquire implements Exclusive
func (v *VisionChannel) TryAcquire() bool { return v.inFlight.CompareAndSwap(false, true) }

// Release implements Exclusive
func (v *VisionChannel) Release() { v.inFlight.Store(false) }

// Busy reports whether an analysis is in flight
func (v *VisionChannel) Busy() bool { return v.inFlight.Load() }

// LastNarration returns the most recent analysis result
func (v *VisionChannel) LastNarration() Narration {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last
}

func (v *VisionChannel) Notify(ctx context.Context, a Alert) error {
	frame := a.Frame
	if v.maxWidth > 0 && len(frame) > 0 {
		if small, err := annotate.Downscale(frame, v.maxWidth); err == nil {
			frame = small
		} else {
			log.Printf("[Vision] Sending full-size frame: %v", err)
		}
	}

	log.Printf("[Vision] Frame sent for analysis, reason: %s", a.Reason)

	text, err := v.analyzer.Analyze(ctx, frame, a.Reason)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	text = strings.TrimSpace(text)
	safe := IsSafeNarration(text)

	v.mu.Lock()
	v.last = Narration{Text: text, Reason: a.Reason, Safe: safe, Timestamp: time.Now()}
	v.mu.Unlock()

	log.Printf("[Vision] Narration: %s", text)

	if safe || text == "" || v.speaker == nil {
		return nil
	}

	speak := func(ctx context.Context) error {
		return v.speaker.Speak(ctx, text)
	}
	if v.spawner != nil {
		v.spawner.Go(ChannelVision+"-speech", speak)
		return nil
	}
	return speak(ctx)
}

// SpeechChannel speaks a short warning for violations
type SpeechChannel struct {
	speaker Speaker
}

// NewSpeechChannel creates the speech channel
func NewSpeechChannel(speaker Speaker) *SpeechChannel {
	return &SpeechChannel{speaker: speaker}
}

func (s *SpeechChannel) Name() string { return ChannelSpeech }

func (s *SpeechChannel) Handles(k Kind) bool { return k.IsViolation() }

func (s *SpeechChannel) Notify(ctx context.Context, a Alert) error {
	return s.speaker.Speak(ctx, SpokenWarning(a.Reason))
}

// SpokenWarning turns a composed reason into a sentence for text to speech
func SpokenWarning(reason string) string {
	return "Attention! " + strings.ReplaceAll(reason, ReasonSeparator, " and ") + "."
}

// PushChannel sends the annotated frame to a messaging service
type PushChannel struct {
	sender ImageSender
}

// NewPushChannel creates the push notification channel
func NewPushChannel(sender ImageSender) *PushChannel {
	return &PushChannel{sender: sender}
}

func (p *PushChannel) Name() string { return ChannelPush }

func (p *PushChannel) Handles(k Kind) bool { return k.IsViolation() }

func (p *PushChannel) Notify(ctx context.Context, a Alert) error {
	frame, err := annotate.Annotate(a.Frame, annotate.Scene{
		Persons:          a.Persons,
		Equipped:         a.Equipped,
		Offenders:        a.Offenders,
		EquipmentChecked: !a.EquipmentDegraded,
		Zone:             a.Zone,
		Banner:           "ALERT: SAFETY VIOLATION",
	})
	if err != nil {
		log.Printf("[Push] Sending raw frame, annotation failed: %v", err)
		frame = a.Frame
	}

	return p.sender.SendImage(ctx, frame, Caption(a))
}

// Caption formats the push notification text (Telegram HTML)
func Caption(a Alert) string {
	return fmt.Sprintf("<b>Safety alert</b>: %s\nPersons: %d\nCamera: %s\nTime: %s",
		html.EscapeString(a.Reason),
		a.PersonCount,
		html.EscapeString(a.CameraID),
		a.Timestamp.Format("2006-01-02 15:04:05"))
}

// LogChannel appends violation records to persistent storage
type LogChannel struct {
	recorder eventlog.Recorder
}

// NewLogChannel creates the persistent log channel
func NewLogChannel(recorder eventlog.Recorder) *LogChannel {
	return &LogChannel{recorder: recorder}
}

func (l *LogChannel) Name() string { return ChannelLog }

func (l *LogChannel) Handles(k Kind) bool { return k.IsViolation() }

func (l *LogChannel) Notify(ctx context.Context, a Alert) error {
	return l.recorder.Record(ctx, eventlog.Entry{
		Timestamp: a.Timestamp,
		Magnitude: a.PersonCount,
		Status:    a.Reason,
		CameraID:  a.CameraID,
		FrameSeq:  a.FrameSeq,
		Counter:   a.Counter,
		Kind:      a.Kind.String(),
	})
}

// Ensure channel implementations
var (
	_ Channel   = (*VisionChannel)(nil)
	_ Exclusive = (*VisionChannel)(nil)
	_ Channel   = (*SpeechChannel)(nil)
	_ Channel   = (*PushChannel)(nil)
	_ Channel   = (*LogChannel)(nil)
	_ Spawner   = (*Dispatcher)(nil)
)
