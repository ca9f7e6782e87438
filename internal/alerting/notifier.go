package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Kind classifies what went wrong in a cycle.
type Kind string

const (
	KindValidationRejected Kind = "validation_rejected"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindUnexpectedFailure  Kind = "unexpected_failure"
)

// Notification 封装告警上下文。
type Notification struct {
	At         time.Time
	Kind       Kind
	CycleID    string
	Message    string
	Readings   map[string]float64
	Validation map[string]bool
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	client.JSONMarshal = sonic.Marshal
	client.JSONUnmarshal = sonic.Unmarshal

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.botToken))
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode())
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := sonic.Unmarshal(resp.Body(), &result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Time("at", note.At).
		Str("kind", string(note.Kind)).
		Str("cycle_id", note.CycleID).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Qubic NetStats Alert]\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Kind: %s\n", note.Kind))
	if note.CycleID != "" {
		builder.WriteString(fmt.Sprintf("Cycle: %s\n", note.CycleID))
	}
	if len(note.Readings) > 0 {
		names := make([]string, 0, len(note.Readings))
		for name := range note.Readings {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			status := ""
			if ok, found := note.Validation[name]; found && !ok {
				status = " (rejected)"
			}
			builder.WriteString(fmt.Sprintf("%s: %.0f%s\n", name, note.Readings[name], status))
		}
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

// Throttled drops notifications of a kind already sent within the cooldown.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[Kind]time.Time
}

// NewThrottled wraps next with a per-kind cooldown. A nil clock defaults to time.Now.
func NewThrottled(next Notifier, cooldown time.Duration, now func() time.Time) *Throttled {
	if now == nil {
		now = time.Now
	}
	return &Throttled{next: next, cooldown: cooldown, now: now, last: make(map[Kind]time.Time)}
}

// Notify forwards the notification unless it is inside the cooldown window.
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	now := t.now()
	t.mu.Lock()
	if last, ok := t.last[note.Kind]; ok && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return nil
	}
	t.last[note.Kind] = now
	t.mu.Unlock()

	if err := t.next.Notify(ctx, note); err != nil {
		t.mu.Lock()
		delete(t.last, note.Kind)
		t.mu.Unlock()
		return err
	}
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Throttled)(nil)
)
