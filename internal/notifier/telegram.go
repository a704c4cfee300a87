// Package notifier relays alert transitions to Telegram.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"controlroom/internal/models"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	queueSize      = 64
	maxRetries     = 3
)

// ErrNotConfigured is returned by Send when the bot token or chat id is missing.
var ErrNotConfigured = errors.New("telegram not configured")

// Options configures the relay.
type Options struct {
	Token   string
	ChatID  string
	BaseURL string
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
	// Every limits outgoing messages. Telegram allows about one per second
	// per chat.
	Every     time.Duration
	RetryWait time.Duration
}

// Telegram delivers alert events through the Bot API. Events are queued by
// HandleAlert and sent by Run, so a slow API never blocks a cycle.
type Telegram struct {
	token   string
	chatID  string
	client  *resty.Client
	limiter *rate.Limiter
	queue   chan models.AlertEvent
	log     *log.Logger
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram builds the relay.
func NewTelegram(opts Options, logger *log.Logger) *Telegram {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Every <= 0 {
		opts.Every = time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}

	client := resty.NewWithClient(opts.HTTPClient).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(maxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(4 * opts.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Telegram{
		token:   opts.Token,
		chatID:  opts.ChatID,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(opts.Every), 1),
		queue:   make(chan models.AlertEvent, queueSize),
		log:     logger.With("module", "telegram"),
	}
}

// Enabled reports whether the bot token and chat id are set.
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// HandleAlert queues the event for delivery. A full queue drops the event.
func (t *Telegram) HandleAlert(_ context.Context, ev models.AlertEvent) error {
	if !t.Enabled() {
		return nil
	}
	select {
	case t.queue <- ev:
		return nil
	default:
		return fmt.Errorf("telegram queue full, dropping alert %s", ev.ID)
	}
}

// Run delivers queued events until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			if err := t.Send(ctx, FormatAlert(ev)); err != nil {
				t.log.Warn("alert delivery failed", "alert", ev.ID, "entity", ev.Entity(), "err", err)
				continue
			}
			t.log.Debug("alert delivered", "alert", ev.ID, "entity", ev.Entity())
		}
	}
}

// Send posts one message, retrying throttled and server errors.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		return ErrNotConfigured
	}
	var result apiResponse
	res, err := t.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: t.chatID, Text: text, DisableWebPagePreview: true}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode(), result.Description)
	}
	if !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}
	return nil
}

// FormatAlert renders an event as a plain-text message.
func FormatAlert(ev models.AlertEvent) string {
	return fmt.Sprintf("[%s] %s: %s -> %s at %s",
		strings.ToUpper(string(ev.Severity)),
		ev.Entity(),
		ev.PreviousStatus,
		ev.NewStatus,
		ev.Timestamp.UTC().Format(time.RFC3339),
	)
}
