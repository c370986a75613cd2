package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/models"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrMissingTokenOrChat is the send error reported when no bot token or no chat id is available
const ErrMissingTokenOrChat = "missing_token_or_chat"

const (
	methodSendMessage = "sendMessage"
	methodSendPhoto   = "sendPhoto"

	maxResponseBody = 1 << 20
)

// InlineButton is one url button of an inline keyboard
type InlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// DroppedButton reports a button left out of the keyboard and why
type DroppedButton struct {
	Text   string `json:"text"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// OutboundMessage is a composed provider payload, reused for every recipient of a job
type OutboundMessage struct {
	Method             string
	Text               string
	PhotoURL           string
	ParseMode          string
	DisableLinkPreview bool
	Keyboard           [][]InlineButton
}

// SendResult classifies one provider call. Systemic marks failures that will hit every recipient.
type SendResult struct {
	OK         bool
	Error      string
	MessageID  *int64
	StatusCode int
	Systemic   bool
	RetryAfter time.Duration
}

// MessageSender delivers one composed message to one chat
type MessageSender interface {
	Configured() bool
	Compose(text string, delivery models.DeliveryConfig) (*OutboundMessage, []DroppedButton)
	Send(ctx context.Context, msg *OutboundMessage, chatID string) SendResult
}

// TelegramService implements MessageSender over the Telegram Bot API
type TelegramService struct {
	cfg     config.TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewTelegramService creates the Bot API sender
func NewTelegramService(cfg config.TelegramConfig, logger zerolog.Logger) *TelegramService {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.telegram.org"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	return &TelegramService{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "telegram").Logger(),
	}
}

// Configured reports whether a bot token is present
func (s *TelegramService) Configured() bool {
	return strings.TrimSpace(s.cfg.BotToken) != ""
}

// Compose builds the payload for a job. Buttons with empty or over-long text,
// or with a link NormalizeButtonURL rejects, are dropped and returned.
func (s *TelegramService) Compose(text string, delivery models.DeliveryConfig) (*OutboundMessage, []DroppedButton) {
	msg := &OutboundMessage{
		Method:             methodSendMessage,
		Text:               text,
		ParseMode:          strings.TrimSpace(delivery.ParseMode),
		DisableLinkPreview: delivery.DisableLinkPreview || s.cfg.DisableLinkPreview,
	}
	if delivery.HasImage() {
		msg.Method = methodSendPhoto
		msg.PhotoURL = strings.TrimSpace(delivery.ImageURL)
	}

	var dropped []DroppedButton
	add := func(b models.BroadcastButton) {
		label := strings.TrimSpace(b.Text)
		if label == "" {
			dropped = append(dropped, DroppedButton{Text: b.Text, URL: b.URL, Reason: "button text is empty"})
			return
		}
		if utf8.RuneCountInString(label) > utils.TelegramButtonTextMax {
			dropped = append(dropped, DroppedButton{Text: b.Text, URL: b.URL, Reason: "button text is too long"})
			return
		}
		link, err := NormalizeButtonURL(b.URL)
		if err != nil {
			dropped = append(dropped, DroppedButton{Text: b.Text, URL: b.URL, Reason: err.Error()})
			return
		}
		msg.Keyboard = append(msg.Keyboard, []InlineButton{{Text: label, URL: link}})
	}

	if delivery.ButtonText != "" || delivery.ButtonURL != "" {
		add(models.BroadcastButton{Text: delivery.ButtonText, URL: delivery.ButtonURL})
	}
	for _, b := range delivery.CustomButtons {
		add(b)
	}

	return msg, dropped
}

type telegramInlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type telegramLinkPreview struct {
	IsDisabled bool `json:"is_disabled"`
}

type telegramSendRequest struct {
	ChatID             string                  `json:"chat_id"`
	Text               string                  `json:"text,omitempty"`
	Photo              string                  `json:"photo,omitempty"`
	Caption            string                  `json:"caption,omitempty"`
	ParseMode          string                  `json:"parse_mode,omitempty"`
	LinkPreviewOptions *telegramLinkPreview    `json:"link_preview_options,omitempty"`
	ReplyMarkup        *telegramInlineKeyboard `json:"reply_markup,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      *struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (m *OutboundMessage) request(chatID string) telegramSendRequest {
	req := telegramSendRequest{ChatID: chatID, ParseMode: m.ParseMode}
	if m.Method == methodSendPhoto {
		req.Photo = m.PhotoURL
		req.Caption = m.Text
	} else {
		req.Text = m.Text
		if m.DisableLinkPreview {
			req.LinkPreviewOptions = &telegramLinkPreview{IsDisabled: true}
		}
	}
	if len(m.Keyboard) > 0 {
		req.ReplyMarkup = &telegramInlineKeyboard{InlineKeyboard: m.Keyboard}
	}
	return req
}

// Send performs exactly one logical delivery. A 429 whose retry_after fits
// within MaxRetryAfter is retried once. Errors are returned in the result.
func (s *TelegramService) Send(ctx context.Context, msg *OutboundMessage, chatID string) SendResult {
	chatID = strings.TrimSpace(chatID)
	if !s.Configured() || chatID == "" || msg == nil {
		return SendResult{Error: ErrMissingTokenOrChat}
	}

	payload, err := json.Marshal(msg.request(chatID))
	if err != nil {
		return SendResult{Error: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	var res SendResult
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return SendResult{Error: err.Error()}
		}

		res = s.call(ctx, msg.Method, payload)
		if res.OK || res.RetryAfter <= 0 || attempt > 0 || res.RetryAfter > s.cfg.MaxRetryAfter {
			return res
		}

		s.logger.Warn().Str("chat_id", chatID).Dur("retry_after", res.RetryAfter).Msg("provider rate limited, retrying once")
		timer := time.NewTimer(res.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SendResult{Error: ctx.Err().Error()}
		case <-timer.C:
		}
	}
	return res
}

func (s *TelegramService) call(ctx context.Context, method string, payload []byte) SendResult {
	endpoint := s.cfg.APIBaseURL + "/bot" + s.cfg.BotToken + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{Error: redactToken(err, s.cfg.BotToken)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{Error: redactToken(err, s.cfg.BotToken)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return SendResult{StatusCode: resp.StatusCode, Error: fmt.Sprintf("failed to read response body: %v", err)}
	}

	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return SendResult{
			StatusCode: resp.StatusCode,
			Systemic:   resp.StatusCode == http.StatusUnauthorized,
			Error:      fmt.Sprintf("unexpected provider response (http %d)", resp.StatusCode),
		}
	}

	if tr.OK {
		res := SendResult{OK: true, StatusCode: resp.StatusCode}
		if tr.Result != nil && tr.Result.MessageID != 0 {
			id := tr.Result.MessageID
			res.MessageID = &id
		}
		return res
	}

	code := tr.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	res := SendResult{
		StatusCode: code,
		Error:      tr.Description,
		Systemic:   code == http.StatusUnauthorized,
	}
	if res.Error == "" {
		res.Error = fmt.Sprintf("provider rejected message (code %d)", code)
	}
	if code == http.StatusTooManyRequests && tr.Parameters != nil && tr.Parameters.RetryAfter > 0 {
		res.RetryAfter = time.Duration(tr.Parameters.RetryAfter) * time.Second
	}
	return res
}

// redactToken strips the request URL, which embeds the bot token, from transport errors
func redactToken(err error, token string) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		err = fmt.Errorf("%s: %w", strings.ToLower(ue.Op), ue.Err)
	}
	msg := err.Error()
	if token != "" {
		msg = strings.ReplaceAll(msg, token, "***")
	}
	return msg
}
