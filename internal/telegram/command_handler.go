package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"sitewatch/internal/database"
	"sitewatch/internal/eventlog"
	"sitewatch/internal/session"
)

// Monitor is the part of a session the bot can query and control
type Monitor interface {
	CameraID() string
	Status() session.Status
	Snapshot() ([]byte, error)
	Running() bool
	Start(ctx context.Context) error
	Stop() error
}

// EventLister reads recorded violations
type EventLister interface {
	ListEvents(ctx context.Context, f database.EventFilter) ([]*eventlog.Entry, error)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage represents an incoming Telegram message
type TelegramMessage struct {
	MessageID int64           `json:"message_id"`
	From      *TelegramUser   `json:"from,omitempty"`
	Chat      *TelegramChat   `json:"chat,omitempty"`
	Date      int64           `json:"date"`
	Text      string          `json:"text,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`
}

// TelegramUser represents a Telegram user
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// MessageEntity represents a message entity (for detecting commands)
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// CommandHandler answers bot commands from the authorized chat
type CommandHandler struct {
	bot          *TelegramBot
	monitor      Monitor
	events       EventLister // Optional
	lastUpdateID int64
	startTime    time.Time
	mu           sync.Mutex
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *TelegramBot, monitor Monitor, events EventLister) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		monitor:   monitor,
		events:    events,
		startTime: time.Now(),
	}
}

// StartPolling polls for updates every two seconds until ctx is cancelled
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if !ch.bot.IsEnabled() {
		return fmt.Errorf("telegram bot is disabled")
	}

	ch.bot.mu.RLock()
	token := ch.bot.botToken
	ch.bot.mu.RUnlock()
	if token == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	log.Printf("[Telegram] Starting command polling")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil {
				log.Printf("[Telegram] Warning: failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes pending updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	ch.bot.mu.RLock()
	result, err := ch.bot.call(ctx, "getUpdates", map[string]interface{}{
		"offset":  offset,
		"timeout": 1,
	})
	authorizedChatID := ch.bot.chatID
	ch.bot.mu.RUnlock()
	if err != nil {
		return err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return fmt.Errorf("failed to parse updates: %w", err)
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message, authorizedChatID)
		}
	}

	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage, authorizedChatID string) {
	if msg.Chat == nil {
		return
	}

	// Only the configured chat may issue commands
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != authorizedChatID {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatID)
		return
	}

	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Strip the bot username suffix (/status@mybot)
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	log.Printf("[Telegram] Processing command %s", command)

	var response string
	switch command {
	case "/start", "/help":
		response = ch.handleHelp()
	case "/status":
		response = ch.handleStatus()
	case "/channels":
		response = ch.handleChannels()
	case "/events":
		response = ch.handleEvents(ctx, args)
	case "/snapshot":
		ch.handleSnapshot(ctx)
		return // Snapshot sends a photo directly
	case "/monitor_on":
		response = ch.handleMonitorOn(ctx)
	case "/monitor_off":
		response = ch.handleMonitorOff()
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(command))
	}

	if err := ch.bot.SendMessage(ctx, response); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

func (ch *CommandHandler) handleHelp() string {
	return "<b>Sitewatch commands</b>\n\n" +
		"/status - Monitoring status\n" +
		"/channels - Alert channel activity\n" +
		"/events [limit] - Recent violations\n" +
		"/snapshot - Annotated view of the last frame\n" +
		"/monitor_on - Start monitoring\n" +
		"/monitor_off - Stop monitoring\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	st := ch.monitor.Status()

	state := "stopped"
	if st.Running {
		state = "running"
	}
	equipment := "active"
	if st.EquipmentDegraded {
		equipment = "unavailable (zone checks only)"
	}

	return fmt.Sprintf(
		"<b>Status</b>: %s\n\n"+
			"Camera: %s\n"+
			"Phase: %s (counter %d)\n"+
			"Frames: %d processed, %d skipped\n"+
			"Alert frames: %d\n"+
			"Inference p50/p95: %.0f/%.0f ms\n"+
			"Equipment checks: %s\n"+
			"Uptime: %s",
		state,
		html.EscapeString(st.CameraID),
		st.Phase, st.Counter,
		st.FramesProcessed, st.FramesSkipped,
		st.AlertFrames,
		st.InferenceP50Ms, st.InferenceP95Ms,
		equipment,
		formatDuration(time.Since(ch.startTime)),
	)
}

func (ch *CommandHandler) handleChannels() string {
	channels := ch.monitor.Status().Channels
	if len(channels) == 0 {
		return "<b>Alert channels</b>\n\nNo channels configured."
	}

	var sb strings.Builder
	sb.WriteString("<b>Alert channels</b>\n\n")
	for _, c := range channels {
		last := "never"
		if !c.LastFired.IsZero() {
			last = formatDuration(time.Since(c.LastFired)) + " ago"
		}
		fmt.Fprintf(&sb, "<b>%s</b> (%s): %d sent, %d failed, last %s\n", c.Name, c.Throttle, c.Fired, c.Failed, last)
	}
	return sb.String()
}

func (ch *CommandHandler) handleEvents(ctx context.Context, args []string) string {
	if ch.events == nil {
		return "Event history is not available."
	}

	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	events, err := ch.events.ListEvents(ctx, database.EventFilter{CameraID: ch.monitor.CameraID(), Limit: limit})
	if err != nil {
		return fmt.Sprintf("Failed to load events: %s", html.EscapeString(err.Error()))
	}
	if len(events) == 0 {
		return "<b>Recent violations</b>\n\nNone recorded."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Recent violations</b> (last %d)\n\n", len(events))
	for i, e := range events {
		fmt.Fprintf(&sb, "%d. %s - %s (%d persons)\n",
			i+1, e.Timestamp.Local().Format("Jan 2, 15:04:05"), html.EscapeString(e.Status), e.Magnitude)
	}
	return sb.String()
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	frame, err := ch.monitor.Snapshot()
	if err != nil {
		msg := fmt.Sprintf("Failed to build snapshot: %s", html.EscapeString(err.Error()))
		if errors.Is(err, session.ErrNoFrame) {
			msg = "No frame processed yet."
		}
		if err := ch.bot.SendMessage(ctx, msg); err != nil {
			log.Printf("[Telegram] Failed to send reply: %v", err)
		}
		return
	}

	st := ch.monitor.Status()
	caption := fmt.Sprintf("<b>Snapshot</b>\nCamera: %s\nPhase: %s\nTime: %s",
		html.EscapeString(st.CameraID), st.Phase, time.Now().Format("2006-01-02 15:04:05"))

	if err := ch.bot.SendImage(ctx, frame, caption); err != nil {
		log.Printf("[Telegram] Failed to send snapshot: %v", err)
	}
}

func (ch *CommandHandler) handleMonitorOn(ctx context.Context) string {
	if ch.monitor.Running() {
		return "Monitoring is already running."
	}
	if err := ch.monitor.Start(ctx); err != nil {
		return fmt.Sprintf("Failed to start monitoring: %s", html.EscapeString(err.Error()))
	}
	return "Monitoring started."
}

func (ch *CommandHandler) handleMonitorOff() string {
	if !ch.monitor.Running() {
		return "Monitoring was not running."
	}
	if err := ch.monitor.Stop(); err != nil {
		return fmt.Sprintf("Monitoring stopped with error: %s", html.EscapeString(err.Error()))
	}
	return "Monitoring stopped."
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
