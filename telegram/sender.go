package telegram

import (
	"context"
	"errors"
	"fmt"

	"atendigram/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotClient is the part of tgbotapi.BotAPI used for sending and polling.
type BotClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewClientFunc builds a client from a plaintext bot token.
type NewClientFunc func(token string, debug bool) (BotClient, error)

// NewBotClient authorizes against the Telegram Bot API.
func NewBotClient(token string, debug bool) (BotClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = debug
	return bot, nil
}

// BotSender sends outgoing messages through a bot.
type BotSender struct {
	Client BotClient
}

func (s *BotSender) Send(ctx context.Context, chatID int64, msg models.OutgoingMessage) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := BuildChattable(chatID, msg)
	if err != nil {
		return 0, err
	}
	sent, err := s.Client.Send(c)
	if err != nil {
		return 0, fmt.Errorf("telegram send failed: %w", err)
	}
	return sent.MessageID, nil
}

// BuildChattable maps an outgoing message onto the matching Bot API request.
func BuildChattable(chatID int64, msg models.OutgoingMessage) (tgbotapi.Chattable, error) {
	text, mode := render(msg.Text, msg.ParseMode)

	switch msg.Kind {
	case models.KindText, "":
		if text == "" {
			return nil, errors.New("text message without content")
		}
		m := tgbotapi.NewMessage(chatID, text)
		m.ParseMode = mode
		return m, nil
	case models.KindPhoto, models.KindAudio, models.KindVoice:
		if msg.MediaURL == "" {
			return nil, fmt.Errorf("%s message without media url", msg.Kind)
		}
	}

	file := tgbotapi.FileURL(msg.MediaURL)
	switch msg.Kind {
	case models.KindPhoto:
		m := tgbotapi.NewPhoto(chatID, file)
		m.Caption, m.ParseMode = text, mode
		return m, nil
	case models.KindAudio:
		m := tgbotapi.NewAudio(chatID, file)
		m.Caption, m.ParseMode = text, mode
		return m, nil
	case models.KindVoice:
		m := tgbotapi.NewVoice(chatID, file)
		m.Caption, m.ParseMode = text, mode
		return m, nil
	}
	return nil, fmt.Errorf("unsupported message kind %q", msg.Kind)
}

func render(text string, mode models.ParseMode) (string, string) {
	switch mode {
	case models.ParseHTML:
		return text, tgbotapi.ModeHTML
	case models.ParseMarkdown:
		return ToTelegramHTML(text), tgbotapi.ModeHTML
	default:
		return text, ""
	}
}
