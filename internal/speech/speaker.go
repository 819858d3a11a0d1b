package speech

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"sitewatch/internal/alert"
)

// runFunc executes a command to completion
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandSpeaker renders speech through an external TTS program such as espeak.
// Utterances are serialized so warnings never talk over each other.
type CommandSpeaker struct {
	command string
	rate    int
	run     runFunc
	mu      sync.Mutex
}

// NewCommandSpeaker creates a speaker for command at the given words per minute
func NewCommandSpeaker(command string, rate int) *CommandSpeaker {
	if rate <= 0 {
		rate = 150
	}
	return &CommandSpeaker{command: command, rate: rate, run: runCommand}
}

// Available reports whether the TTS program is on PATH
func (s *CommandSpeaker) Available() bool {
	_, err := exec.LookPath(s.command)
	return err == nil
}

// Speak implements alert.Speaker
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.run(ctx, s.command, "-s", strconv.Itoa(s.rate), text)
	if err != nil {
		return fmt.Errorf("%s failed: %w (%s)", s.command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LogSpeaker writes utterances to the log; used when no TTS program is installed
type LogSpeaker struct{}

// Speak implements alert.Speaker
func (LogSpeaker) Speak(_ context.Context, text string) error {
	log.Printf("[Speech] %s", text)
	return nil
}

// New returns a CommandSpeaker when command is installed, a LogSpeaker otherwise
func New(command string, rate int) alert.Speaker {
	s := NewCommandSpeaker(command, rate)
	if command == "" || !s.Available() {
		log.Printf("[Speech] %q not found, warnings will only be logged", command)
		return LogSpeaker{}
	}
	return s
}

// Ensure speakers implement alert.Speaker
var (
	_ alert.Speaker = (*CommandSpeaker)(nil)
	_ alert.Speaker = LogSpeaker{}
)
