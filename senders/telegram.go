package senders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"go.uber.org/zap"
)

// Telegram talks to the Bot API for message delivery and /start linking.
type Telegram struct {
	base
	apiURL   string
	token    string
	username string
	delay    time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	nextSend time.Time
	offset   int64
}

func NewTelegram(log *zap.Logger, cfg *config.Config, transport http.RoundTripper) *Telegram {
	return &Telegram{
		base:     base{log, cfg, transport},
		apiURL:   strings.TrimSuffix(cfg.Telegram.APIURL, "/"),
		token:    cfg.Telegram.BotToken,
		username: cfg.Telegram.BotUsername,
		delay:    time.Duration(cfg.Telegram.SendDelayMillis) * time.Millisecond,
		timeout:  time.Duration(cfg.Telegram.TimeoutSecs) * time.Second,
	}
}

func (t *Telegram) Enabled() bool {
	return t.token != ""
}

// DeepLink is the t.me link that opens the bot with a /start payload.
func (t *Telegram) DeepLink(linkToken string) string {
	if t.username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", t.username, linkToken)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *updateMessage `json:"message"`
	EditedMessage *updateMessage `json:"edited_message"`
}

type updateMessage struct {
	Text string `json:"text"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

func (t *Telegram) call(ctx context.Context, method string, body, out any) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var resp apiResponse
	err := requests.URL(t.apiURL).
		Path(fmt.Sprintf("/bot%s/%s", t.token, method)).
		Transport(t.transport).
		BodyJSON(body).
		AddValidator(nil).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram %s: %s", method, resp.Description)
	}
	if out != nil {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

// pace spaces consecutive sends by the configured delay.
func (t *Telegram) pace(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	wait := max(t.nextSend.Sub(now), 0)
	t.nextSend = now.Add(wait + t.delay)
	t.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string, markdown bool) (string, error) {
	body := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if markdown {
		body["parse_mode"] = "MarkdownV2"
	}

	var msg sentMessage
	if err := t.call(ctx, "sendMessage", body, &msg); err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// send tries MarkdownV2 first and falls back to the plain rendering.
func (t *Telegram) send(ctx context.Context, chatID, markdown, plain string) (string, error) {
	if chatID == "" {
		return "", errors.New("telegram chat id missing")
	}
	if err := t.pace(ctx); err != nil {
		return "", err
	}

	id, err := t.sendMessage(ctx, chatID, markdown, true)
	if err == nil {
		return id, nil
	}
	t.log.Sugar().Warnw("Markdown send failed, retrying without formatting", "chat_id", chatID, "err", err)
	return t.sendMessage(ctx, chatID, plain, false)
}

func (t *Telegram) SendChange(ctx context.Context, notifier *models.Notifier, watch *models.Watch, change models.Change) (string, error) {
	return t.send(ctx, notifier.PlatformIdentifier, RenderMarkdown(watch, change), RenderPlain(watch, change))
}

func (t *Telegram) SendConfirmation(ctx context.Context, notifier *models.Notifier, watch *models.Watch) (string, error) {
	return t.send(ctx, notifier.PlatformIdentifier,
		renderConfirmation(markdownStyle, watch), renderConfirmation(plainStyle, watch))
}

// SendVerification is unsupported; telegram channels link through DeepLink.
func (t *Telegram) SendVerification(context.Context, *models.Notifier, string) (string, error) {
	return "", fmt.Errorf("%w: telegram links through the bot deep link", ErrUnsupportedPlatform)
}

// SendLinked acknowledges a completed /start handshake.
func (t *Telegram) SendLinked(ctx context.Context, chatID string) error {
	const text = "✅ Registered successfully. We'll notify you about new listings!"
	_, err := t.send(ctx, chatID, EscapeMarkdown(text), text)
	return err
}

// StartCommand is a "/start <token>" message received by the bot.
type StartCommand struct {
	ChatID string
	Token  string
}

// GetStartCommands consumes pending bot updates and returns the /start
// commands that carry a link token.
func (t *Telegram) GetStartCommands(ctx context.Context) ([]StartCommand, error) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	var updates []update
	if err := t.call(ctx, "getUpdates", map[string]any{"offset": offset, "timeout": 0}, &updates); err != nil {
		return nil, err
	}

	cmds := make([]StartCommand, 0)
	for _, u := range updates {
		offset = u.UpdateID + 1

		msg := u.Message
		if msg == nil {
			msg = u.EditedMessage
		}
		if msg == nil {
			continue
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(msg.Text), " ")
		token := strings.TrimSpace(arg)
		if cmd != "/start" || token == "" {
			continue
		}
		cmds = append(cmds, StartCommand{ChatID: strconv.FormatInt(msg.Chat.ID, 10), Token: token})
	}

	t.mu.Lock()
	t.offset = offset
	t.mu.Unlock()
	return cmds, nil
}
