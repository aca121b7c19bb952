// Package notify delivers listing alerts through the Telegram Bot API.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// MaxMediaGroup is the largest album Telegram accepts.
	MaxMediaGroup = 10
	maxCaption    = 1024
	maxText       = 4096
)

// Telegram sends listing alerts to a fixed set of chats.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

type settings struct {
	endpoint string
	client   *http.Client
}

// Option customises a Telegram client.
type Option func(*settings)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithBaseURL points the client at a different Bot API server.
func WithBaseURL(u string) Option {
	return func(s *settings) { s.endpoint = strings.TrimSuffix(u, "/") + "/bot%s/%s" }
}

// NewTelegram returns a client for the bot identified by token. It calls
// getMe, so a revoked or mistyped token fails here.
func NewTelegram(token string, opts ...Option) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	s := settings{
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(&s)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, s.endpoint, s.client)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Username is the bot's @handle as reported by getMe.
func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

// SendText sends text to every chat. Delivery continues past failed chats;
// the returned error joins all failures.
func (t *Telegram) SendText(ctx context.Context, chatIDs []string, text string) error {
	text = clip(text, maxText)
	return t.eachChat(ctx, chatIDs, "telegram send failed", func(chat tgbotapi.BaseChat) error {
		msg := tgbotapi.NewMessage(chat.ChatID, text)
		msg.BaseChat = chat
		msg.DisableWebPagePreview = true
		_, err := t.bot.Send(msg)
		return err
	})
}

// SendMediaGroup sends the listing photos captioned with text. Photos are
// either http(s) URLs or local file paths. No photos sends plain text, one
// photo goes out through sendPhoto, and two to ten form an album. A caption
// too long for a photo is sent as a separate message after it.
func (t *Telegram) SendMediaGroup(ctx context.Context, chatIDs []string, text string, photos []string) error {
	if len(photos) == 0 {
		return t.SendText(ctx, chatIDs, text)
	}
	if len(photos) > MaxMediaGroup {
		photos = photos[:MaxMediaGroup]
	}

	caption := text
	followUp := ""
	if textLen(text) > maxCaption {
		caption, followUp = "", clip(text, maxText)
	}

	return t.eachChat(ctx, chatIDs, "telegram album failed", func(chat tgbotapi.BaseChat) error {
		var err error
		if len(photos) == 1 {
			err = t.sendPhoto(chat, caption, photos[0])
		} else {
			err = t.sendAlbum(chat, caption, photos)
		}
		if err != nil || followUp == "" {
			return err
		}
		msg := tgbotapi.NewMessage(chat.ChatID, followUp)
		msg.BaseChat = chat
		msg.DisableWebPagePreview = true
		_, err = t.bot.Send(msg)
		return err
	})
}

func (t *Telegram) sendPhoto(chat tgbotapi.BaseChat, caption, photo string) error {
	p := tgbotapi.NewPhoto(chat.ChatID, fileData(photo))
	p.BaseChat = chat
	p.Caption = caption
	_, err := t.bot.Send(p)
	return err
}

func (t *Telegram) sendAlbum(chat tgbotapi.BaseChat, caption string, photos []string) error {
	media := make([]interface{}, 0, len(photos))
	for i, photo := range photos {
		item := tgbotapi.NewInputMediaPhoto(fileData(photo))
		if i == 0 {
			item.Caption = caption
		}
		media = append(media, item)
	}
	album := tgbotapi.NewMediaGroup(chat.ChatID, media)
	album.ChannelUsername = chat.ChannelUsername
	_, err := t.bot.SendMediaGroup(album)
	return err
}

// eachChat runs send for every chat id, logging and collecting failures.
func (t *Telegram) eachChat(ctx context.Context, chatIDs []string, logMsg string, send func(tgbotapi.BaseChat) error) error {
	var errs []error
	for _, id := range chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		chat, err := baseChat(id)
		if err == nil {
			err = send(chat)
		}
		if err != nil {
			slog.Warn(logMsg, slog.String("chat_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("chat %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// baseChat addresses a numeric chat id or an @channel username.
func baseChat(id string) (tgbotapi.BaseChat, error) {
	if strings.HasPrefix(id, "@") {
		return tgbotapi.BaseChat{ChannelUsername: id}, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return tgbotapi.BaseChat{}, fmt.Errorf("invalid chat id %q", id)
	}
	return tgbotapi.BaseChat{ChatID: n}, nil
}

func fileData(ref string) tgbotapi.RequestFileData {
	if isRemote(ref) {
		return tgbotapi.FileURL(ref)
	}
	return tgbotapi.FilePath(ref)
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// textLen measures s in UTF-16 code units, the unit Telegram limits
// captions and messages by.
func textLen(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func clip(s string, limit int) string {
	if textLen(s) <= limit {
		return s
	}
	n := 0
	for i, r := range s {
		n += len(utf16.Encode([]rune{r}))
		if n > limit-1 {
			return s[:i] + "…"
		}
	}
	return s
}

// ParseChatIDs splits a comma, semicolon or whitespace separated list of
// chat ids, dropping blanks and duplicates.
func ParseChatIDs(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
