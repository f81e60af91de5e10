package telegram

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/jobmail-ingest/internal/database"
	"github.com/mixelka/jobmail-ingest/internal/formatter"
	"github.com/mixelka/jobmail-ingest/internal/ingest"
)

// Ingester is the part of the ingestion service the bot drives
type Ingester interface {
	Trigger() (string, error)
	Status() ingest.Metrics
}

// Bot represents the Telegram bot. It sends notifications to one chat and accepts
// commands only from that chat.
type Bot struct {
	bot       *bot.Bot
	db        *database.DB
	ingester  Ingester
	formatter *formatter.TelegramFormatter
	chatID    int64
	logger    *slog.Logger
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Token     string
	ChatID    int64
	DB        *database.DB
	Ingester  Ingester
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
	Options   []bot.Option // extra client options
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		db:        deps.DB,
		ingester:  deps.Ingester,
		formatter: deps.Formatter,
		chatID:    deps.ChatID,
		logger:    deps.Logger.With("component", "telegram_bot"),
	}
	if b.formatter == nil {
		b.formatter = formatter.NewTelegramFormatter()
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}
	opts = append(opts, deps.Options...)

	tgBot, err := bot.New(deps.Token, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ingest", bot.MatchTypePrefix, b.handleIngest)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.handleStatus)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot", "chat_id", b.chatID)
	b.bot.Start(ctx)
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	// Ignore non-message updates and messages without text
	if update.Message == nil {
		return
	}

	// Log unknown commands
	if update.Message.Text != "" && update.Message.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", update.Message.Text)
	}
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleHelp(ctx, tgBot, update)
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if !b.allowed(msg.Chat.ID) {
		return
	}

	text := `<b>Job Mail Ingest</b>

Бот присылает итоги прогонов и уведомления о приглашениях на интервью и офферах.

<b>Команды:</b>
/ingest - запустить прогон сейчас
/status - текущий прогон и счётчики писем`

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, text)
}
