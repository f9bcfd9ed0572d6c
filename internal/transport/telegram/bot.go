// Package telegram is the inbound/outbound chat transport: a long-poll
// update loop dispatching commands and free text into the session engine,
// and reply-keyboard rendering for multiple-choice prompts.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/app"
)

type Bot struct {
	api    *tgbotapi.BotAPI
	engine *app.Engine
	log    zerolog.Logger
}

func NewBot(token string, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Bot{api: api, log: log}, nil
}

// SetEngine wires the session engine in after construction; the engine needs
// the bot as its Sender, so the two are linked in the CLI wiring.
func (b *Bot) SetEngine(engine *app.Engine) {
	b.engine = engine
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.log.Info().Str("account", b.api.Self.UserName).Msg("authorized on telegram")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	name := displayName(msg.From)

	switch msg.Command() {
	case "start":
		b.Send(chatID, "Привет! Напиши /quiz, чтобы начать викторину.", nil)
	case "quiz":
		b.engine.StartQuiz(ctx, chatID, name)
	case "rating":
		b.engine.ShowLeaderboard(chatID)
	case "stop":
		b.engine.Stop(chatID)
	case "help":
		b.Send(chatID, helpText, nil)
	case "":
		b.engine.HandleText(ctx, chatID, name, msg.Text)
	default:
		b.Send(chatID, "Неизвестная команда. Напиши /help.", nil)
	}
}

// Send implements app.Sender. Options render as a one-time reply keyboard,
// one choice per row. Delivery failures are logged, never retried.
func (b *Bot) Send(chatID int64, text string, options []string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(options) > 0 {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(options))
		for _, opt := range options {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
		}
		keyboard := tgbotapi.NewReplyKeyboard(rows...)
		keyboard.OneTimeKeyboard = true
		msg.ReplyMarkup = keyboard
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func displayName(user *tgbotapi.User) string {
	if user == nil {
		return "Аноним"
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	if user.FirstName != "" {
		return user.FirstName
	}
	return "Аноним"
}

const helpText = `Команды:
/quiz — начать викторину
/rating — таблица лидеров
/stop — остановить текущую викторину
/help — эта справка`
