package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"sitewatch/internal/alert"
)

// DefaultAPIBase is the public Telegram Bot API endpoint
const DefaultAPIBase = "https://api.telegram.org"

// TelegramBot sends safety alerts and command replies to one chat.
// Throttling is owned by the alert dispatcher, the bot sends whatever it is given.
type TelegramBot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
	mu         sync.RWMutex
	enabled    bool
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	APIBase  string        // Defaults to DefaultAPIBase
	Timeout  time.Duration // HTTP timeout, defaults to 30s
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// BotInfo is the subset of getMe we report
type BotInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config) *TelegramBot {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &TelegramBot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		apiBase:    strings.TrimRight(config.APIBase, "/"),
		enabled:    config.Enabled,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// IsEnabled returns whether the bot is enabled
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled
}

// SetEnabled enables or disables the bot
func (tb *TelegramBot) SetEnabled(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// ChatID returns the authorized chat
func (tb *TelegramBot) ChatID() string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.chatID
}

func (tb *TelegramBot) ready() error {
	if !tb.enabled {
		return fmt.Errorf("telegram bot is disabled")
	}
	if tb.botToken == "" || tb.chatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}
	return nil
}

// SendMessage sends an HTML text message
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if err := tb.ready(); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chat_id":    tb.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	_, err := tb.call(ctx, "sendMessage", payload)
	return err
}

// SendImage sends a JPEG with an HTML caption. It implements alert.ImageSender.
func (tb *TelegramBot) SendImage(ctx context.Context, jpeg []byte, caption string) error {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if err := tb.ready(); err != nil {
		return err
	}
	if len(jpeg) == 0 {
		return fmt.Errorf("no image data")
	}

	return tb.sendPhoto(ctx, jpeg, caption)
}

// SendTestMessage sends a test message to verify the bot configuration
func (tb *TelegramBot) SendTestMessage(ctx context.Context) error {
	now := time.Now()
	zoneName, _ := now.Zone()
	timestamp := fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)

	message := fmt.Sprintf(
		"<b>Sitewatch test message</b>\n\n"+
			"Telegram alerts are working.\n"+
			"Sent at: %s",
		timestamp,
	)

	return tb.SendMessage(ctx, message)
}

// sendPhoto sends a photo using multipart form data
func (tb *TelegramBot) sendPhoto(ctx context.Context, photoData []byte, caption string) error {
	url := fmt.Sprintf("%s/bot%s/sendPhoto", tb.apiBase, tb.botToken)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	err := writer.WriteField("chat_id", tb.chatID)
	if err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		err = writer.WriteField("caption", caption)
		if err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}

		err = writer.WriteField("parse_mode", "HTML")
		if err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "violation.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(photoData)
	if err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// call sends a JSON request to a Bot API method and returns its result
func (tb *TelegramBot) call(ctx context.Context, method string, payload map[string]interface{}) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/bot%s/%s", tb.apiBase, tb.botToken, method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	return telegramResp.Result, nil
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	return nil
}

// GetBotInfo retrieves information about the bot
func (tb *TelegramBot) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if tb.botToken == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	result, err := tb.call(ctx, "getMe", map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}

	var info BotInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return &info, nil
}

// Ensure TelegramBot implements alert.ImageSender
var _ alert.ImageSender = (*TelegramBot)(nil)
