package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"sitewatch/internal/alert"
)

// ErrNotConfigured is returned when no API key is available
var ErrNotConfigured = errors.New("vision analyzer not configured")

// DefaultBaseURL is the OpenAI API root
const DefaultBaseURL = "https://api.openai.com/v1/"

// Config holds the chat-completions client settings
type Config struct {
	BaseURL   string        // API root, chat/completions is appended; any OpenAI compatible server works
	Model     string        // e.g. gpt-4o
	APIKey    string        // Bearer token
	MaxTokens int           // Reply budget
	Timeout   time.Duration // Per request timeout
}

// Analyzer asks an OpenAI compatible vision model for a spoken safety warning
type Analyzer struct {
	config Config
	client openai.Client
}

// NewAnalyzer creates a vision analyzer
func NewAnalyzer(config Config) *Analyzer {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = openai.ChatModelGPT4o
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 300
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	// A failed escalation is never retried within the same firing
	client := openai.NewClient(
		option.WithBaseURL(config.BaseURL),
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.Timeout),
		option.WithMaxRetries(0),
	)

	return &Analyzer{
		config: config,
		client: client,
	}
}

// IsConfigured reports whether requests can be made
func (a *Analyzer) IsConfigured() bool {
	return a.config.APIKey != ""
}

// Prompt builds the instruction sent with the frame
func Prompt(reason string) string {
	return fmt.Sprintf("You monitor an industrial site for safety. Trigger: %s. "+
		"Look at the image and pick out the person breaking a safety rule. "+
		"Identify them by what they look like, such as clothing colour and where they stand. "+
		"Reply with one short warning meant to be read aloud, for example: "+
		"'Attention! Worker in the blue jacket near the gate, put on your hard hat now.' "+
		"Mention any other hazards briefly. "+
		"If nothing is unsafe, reply with the single word %s.", reason, alert.SafeSentinel)
}

// Analyze implements alert.Analyzer
func (a *Analyzer) Analyze(ctx context.Context, jpeg []byte, reason string) (string, error) {
	if !a.IsConfigured() {
		return "", ErrNotConfigured
	}

	image := openai.ChatCompletionContentPartImageImageURLParam{
		URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
	}

	start := time.Now()
	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.config.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(Prompt(reason)),
				openai.ImageContentPart(image),
			}),
		},
		MaxTokens: openai.Int(int64(a.config.MaxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("vision service returned status %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("vision request failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("vision service returned no choices")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	log.Printf("[Vision] %s replied in %v", a.config.Model, time.Since(start).Round(time.Millisecond))
	return text, nil
}

// Ensure Analyzer implements alert.Analyzer
var _ alert.Analyzer = (*Analyzer)(nil)
