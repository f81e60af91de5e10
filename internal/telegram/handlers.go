package telegram

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/jobmail-ingest/internal/formatter"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
)

// handleIngest handles /ingest command
func (b *Bot) handleIngest(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.allowed(msg.Chat.ID) {
		b.logger.Warn("command from unknown chat", "chat_id", msg.Chat.ID)
		return
	}

	// In groups only admins may start runs
	if msg.Chat.Type != "private" && msg.From != nil {
		isAdmin, err := b.isUserAdmin(ctx, msg.Chat.ID, msg.From.ID)
		if err != nil {
			b.logger.Error("failed to check admin status", "error", err)
			b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Ошибка проверки прав")
			return
		}
		if !isAdmin {
			b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Только администраторы могут запускать прогон")
			return
		}
	}

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.trigger())
}

// handleStatus handles /status command
func (b *Bot) handleStatus(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.allowed(msg.Chat.ID) {
		return
	}

	m := b.ingester.Status()
	b.sendMessageWithKeyboard(ctx, msg.Chat.ID, msg.MessageThreadID, b.statusText(ctx), formatter.BuildControlKeyboard(m.InProgress))
}

// handleCallback handles inline keyboard buttons
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	chatID := callback.From.ID
	if callback.Message.Message != nil {
		chatID = callback.Message.Message.Chat.ID
	}
	if !b.allowed(chatID) {
		b.answerCallback(ctx, callback.ID, "Недоступно", true)
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Warn("invalid callback data", "data", callback.Data, "error", err)
		b.answerCallback(ctx, callback.ID, "Неизвестная команда", false)
		return
	}

	switch data.Action {
	case formatter.CallbackIngest:
		b.answerCallback(ctx, callback.ID, b.trigger(), false)
	case formatter.CallbackStatus:
		b.answerCallback(ctx, callback.ID, "", false)
		b.sendMessageWithKeyboard(ctx, chatID, 0, b.statusText(ctx), formatter.BuildControlKeyboard(b.ingester.Status().InProgress))
	default:
		b.answerCallback(ctx, callback.ID, "Неизвестная команда", false)
	}
}

// trigger starts a run and returns the reply text
func (b *Bot) trigger() string {
	id, err := b.ingester.Trigger()
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		return "Прогон уже идёт"
	case errors.Is(err, ingest.ErrShuttingDown):
		return "Сервис останавливается"
	case err != nil:
		b.logger.Error("failed to trigger run", "error", err)
		return "Не удалось запустить прогон"
	}
	b.logger.Info("run triggered from telegram", "run_id", id)
	return "Прогон запущен"
}

func (b *Bot) statusText(ctx context.Context) string {
	stats, err := b.db.GetEmailStats(ctx)
	if err != nil {
		b.logger.Error("failed to get stats", "error", err)
	}
	return b.formatter.FormatStatus(b.ingester.Status(), stats)
}
