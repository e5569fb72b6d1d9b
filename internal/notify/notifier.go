package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"alpha_bot/internal/models"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusFunc — откуда брать состояние аккаунтов для команды /status.
type StatusFunc func() []models.AccountStatus

// Telegram — пассивный нотифайер + одна команда /status.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger
	status StatusFunc
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:    b,
		chatID: chatID,
		log:    log.Named("telegram"),
	}, nil
}

// WithStatus подключает источник для /status.
func (t *Telegram) WithStatus(fn StatusFunc) *Telegram {
	t.status = fn
	return t
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("не удалось отправить сообщение", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func (t *Telegram) handleStatus() {
	if t.status == nil {
		t.Send("❗️ Статус недоступен")
		return
	}
	t.Send(FormatStatuses(t.status()))
}

// FormatStatuses — одна строка на аккаунт.
func FormatStatuses(list []models.AccountStatus) string {
	if len(list) == 0 {
		return "📭 Аккаунтов нет"
	}
	var b strings.Builder
	b.WriteString("📊 Аккаунты:\n")
	for _, s := range list {
		fmt.Fprintf(&b, "- %s: %s, циклов %d", s.Name, s.State, s.Completed)
		if s.Error != "" {
			fmt.Fprintf(&b, " (%s)", s.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Start: long-polling команд из нашего чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {

					switch upd.Message.Command() {
					case "status":
						go t.handleStatus()
					}
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Log — заглушка без Telegram: всё в лог.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log.Named("notify")} }

func (l *Log) Send(msg string)                  { l.log.Info(msg) }
func (l *Log) Sendf(format string, args ...any) { l.log.Info(fmt.Sprintf(format, args...)) }

// Prefixed добавляет имя аккаунта к каждому сообщению.
type Prefixed struct {
	Next   Notifier
	Prefix string
}

func (p Prefixed) Send(msg string) {
	if p.Next == nil {
		return
	}
	p.Next.Send("[" + p.Prefix + "] " + msg)
}

func (p Prefixed) Sendf(format string, args ...any) { p.Send(fmt.Sprintf(format, args...)) }
