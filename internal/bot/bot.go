package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskr/internal/model"
	"taskr/internal/pkg/notify"
	"taskr/internal/repository"
	"taskr/internal/service"
	"taskr/internal/session"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageName
	stageDueDate
	stagePriority
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

// Deps are the services the bot drives.
type Deps struct {
	Auth      *service.AuthService
	Tasks     *service.TaskService
	Reminders *service.ReminderService
	Users     *repository.UserRepository
}

// Bot is the Telegram front-end. Each private chat holds its own session
// token, so one Telegram account talks as one taskr user at a time.
type Bot struct {
	api    *tgbotapi.BotAPI
	deps   Deps
	logger *slog.Logger

	mu            sync.Mutex
	sessions      map[int64]string
	conversations map[int64]*conversationState
}

func New(token string, deps Deps, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newWithAPI(api, deps, logger), nil
}

func newWithAPI(api *tgbotapi.BotAPI, deps Deps, logger *slog.Logger) *Bot {
	logger.Info("bot authorized", slog.String("account", api.Self.UserName))
	return &Bot{
		api:           api,
		deps:          deps,
		logger:        logger,
		sessions:      make(map[int64]string),
		conversations: make(map[int64]*conversationState),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.logger.Warn("handle callback", slog.String("error", err.Error()))
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.logger.Warn("handle message", slog.String("error", err.Error()))
		}
	}
}

// Channel implements notify.Notifier.
func (b *Bot) Channel() string { return "telegram" }

// Notify sends an HTML message to the chat linked to user.
func (b *Bot) Notify(_ context.Context, user *model.User, _ string, htmlBody string) error {
	if user == nil || user.TelegramChatID == nil {
		return notify.ErrNoAddress
	}
	msg := tgbotapi.NewMessage(*user.TelegramChatID, htmlBody)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram reminder: %w", err)
	}
	return nil
}

// withSession resolves the chat's token into a context identity. A stale
// token is dropped.
func (b *Bot) withSession(ctx context.Context, chatID int64) context.Context {
	token := b.token(chatID)
	if token == "" {
		return ctx
	}
	id, err := b.deps.Auth.Identify(ctx, token)
	if err != nil {
		b.setToken(chatID, "")
		return ctx
	}
	return session.WithIdentity(ctx, id)
}

func (b *Bot) token(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[chatID]
}

func (b *Bot) setToken(chatID int64, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token == "" {
		delete(b.sessions, chatID)
		return
	}
	b.sessions[chatID] = token
}

func (b *Bot) setConversation(chatID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[chatID] = state
}

func (b *Bot) getConversation(chatID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[chatID]
}

func (b *Bot) clearConversation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, chatID)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.logger.Warn("callback ack", slog.String("error", err.Error()))
	}
}
