package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskr/internal/model"
	"taskr/internal/service"
	"taskr/internal/session"
)

const (
	cbCompletePrefix      = "complete:"
	cbDeletePrefix        = "delete:"
	cbConfirmDeletePrefix = "confirm-delete:"
	cbCancel              = "cancel"
)

const (
	menuLabelTasks  = "📋 Tasks"
	menuLabelAdd    = "➕ New task"
	menuLabelReport = "🗓 Report"
	menuLabelHelp   = "ℹ️ Help"

	maxListedTasks = 30
)

const helpText = "ℹ️ <b>Commands</b>\n" +
	"• /register &lt;name&gt; &lt;email&gt; &lt;password&gt; &lt;confirm&gt; — create an account\n" +
	"• /login &lt;name&gt; &lt;password&gt; — sign in and receive reminders here\n" +
	"• /logout — sign out\n" +
	"• /tasks — show the task list\n" +
	"• /add &lt;name&gt;; &lt;due date&gt;; &lt;priority&gt; — add a task (or just /add to be asked step by step)\n" +
	"• /complete &lt;id&gt; — mark a task as complete\n" +
	"• /delete &lt;id&gt; — delete a task\n" +
	"• /report — your open tasks digest\n" +
	"• /cancel — abort the current input"

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	ctx = b.withSession(ctx, chatID)

	if msg.IsCommand() {
		b.logger.Info("command", slog.Int64("chat_id", chatID), slog.String("command", msg.Command()))
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	if b.getConversation(chatID) != nil {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(chatID, "I did not get that. Try /help for the list of commands.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		return b.handleStart(msg)
	case "help":
		return b.sendText(chatID, helpText)
	case "register":
		return b.handleRegister(ctx, chatID, args)
	case "login":
		return b.handleLogin(ctx, msg, args)
	case "logout":
		return b.handleLogout(ctx, chatID)
	case "tasks":
		return b.sendTaskList(ctx, chatID)
	case "add":
		if args == "" {
			return b.startAddConversation(ctx, chatID)
		}
		return b.handleAdd(ctx, chatID, args)
	case "complete":
		return b.withTaskID(chatID, args, "/complete 3", func(id uint) error {
			return b.completeTask(ctx, chatID, id)
		})
	case "delete":
		return b.withTaskID(chatID, args, "/delete 3", func(id uint) error {
			return b.deleteTask(ctx, chatID, id)
		})
	case "report":
		return b.handleReport(ctx, chatID)
	case "cancel":
		b.clearConversation(chatID)
		return b.sendText(chatID, "⏪ Input cancelled.")
	default:
		return b.sendText(chatID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	name := "there"
	if msg.From != nil && strings.TrimSpace(msg.From.FirstName) != "" {
		name = strings.TrimSpace(msg.From.FirstName)
	}
	text := fmt.Sprintf("👋 Hi, %s!\n<b>taskr keeps a shared task list for your team.</b>\n\n%s", escape(name), helpText)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleRegister(ctx context.Context, chatID int64, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 4 {
		return b.sendText(chatID, "Usage: /register &lt;name&gt; &lt;email&gt; &lt;password&gt; &lt;confirm&gt;")
	}
	_, err := b.deps.Auth.Register(ctx, service.RegisterInput{
		Name: fields[0], Email: fields[1], Password: fields[2], Confirm: fields[3],
	})
	if err != nil {
		return b.sendText(chatID, describeError(err, ""))
	}
	return b.sendText(chatID, "Thanks for registering. Please login.")
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message, args string) error {
	chatID := msg.Chat.ID
	// The command carries a password; drop it from the chat history.
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		b.logger.Debug("delete login message", slog.String("error", err.Error()))
	}

	name, password, ok := strings.Cut(args, " ")
	if !ok {
		return b.sendText(chatID, "Usage: /login &lt;name&gt; &lt;password&gt;")
	}
	res, err := b.deps.Auth.Login(ctx, name, strings.TrimSpace(password))
	if err != nil {
		return b.sendText(chatID, describeError(err, ""))
	}

	b.setToken(chatID, res.Token)
	if err := b.deps.Users.LinkTelegram(ctx, res.Identity.UserID, chatID); err != nil {
		b.logger.Warn("link telegram chat", slog.Uint64("user_id", uint64(res.Identity.UserID)), slog.String("error", err.Error()))
	}
	return b.sendText(chatID, fmt.Sprintf("Welcome! You are signed in as <b>%s</b>.", escape(res.Identity.Name)))
}

func (b *Bot) handleLogout(ctx context.Context, chatID int64) error {
	if _, ok := session.FromContext(ctx); !ok {
		return b.sendText(chatID, describeError(service.ErrNotAuthenticated, ""))
	}
	if err := b.deps.Auth.Logout(ctx, b.token(chatID)); err != nil {
		b.logger.Warn("logout", slog.String("error", err.Error()))
	}
	b.setToken(chatID, "")
	b.clearConversation(chatID)
	return b.sendText(chatID, "Goodbye!")
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) error {
	in, ok := parseAddArgs(args)
	if !ok {
		return b.sendText(chatID, "Usage: /add &lt;name&gt;; &lt;due date&gt;; &lt;priority&gt;\nFor example: <code>/add Go to the bank; 02/05/2014; 1</code>")
	}
	return b.createTask(ctx, chatID, in)
}

func (b *Bot) startAddConversation(ctx context.Context, chatID int64) error {
	if _, ok := session.FromContext(ctx); !ok {
		return b.sendText(chatID, describeError(service.ErrNotAuthenticated, ""))
	}
	b.setConversation(chatID, &conversationState{stage: stageName})
	return b.sendWithReplyMarkup(chatID, "🆕 New task.\n<b>Step 1:</b> what should it be called?", tgbotapi.NewRemoveKeyboard(true))
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	state := b.getConversation(chatID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageName:
		if text == "" {
			return b.sendText(chatID, "The name cannot be empty. What should the task be called?")
		}
		state.input.Name = text
		state.stage = stageDueDate
		return b.sendWithReplyMarkup(chatID, "⏰ <b>Step 2:</b> due date, e.g. <code>02/05/2014</code> or <code>2014-02-05</code>.", tgbotapi.NewRemoveKeyboard(true))
	case stageDueDate:
		if _, ok := service.ParseDueDate(text); !ok {
			return b.sendText(chatID, "I cannot read that date. Use <code>MM/DD/YYYY</code> or <code>YYYY-MM-DD</code>.")
		}
		state.input.DueDate = text
		state.stage = stagePriority
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("🔢 <b>Step 3:</b> priority from %d to %d.", service.MinPriority, service.MaxPriority), priorityKeyboard())
	case stagePriority:
		state.input.Priority = text
		b.clearConversation(chatID)
		return b.createTask(ctx, chatID, state.input)
	default:
		b.clearConversation(chatID)
		return nil
	}
}

func (b *Bot) createTask(ctx context.Context, chatID int64, in service.TaskInput) error {
	task, err := b.deps.Tasks.Create(ctx, in)
	if err != nil {
		return b.sendText(chatID, describeError(err, ""))
	}
	return b.sendText(chatID, fmt.Sprintf("New entry was successfully posted. Thanks!\n#%d %s", task.ID, escape(task.Name)))
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, taskID uint) error {
	task, err := b.deps.Tasks.Complete(ctx, taskID)
	if err != nil {
		return b.sendText(chatID, describeError(err, "update"))
	}
	return b.sendText(chatID, fmt.Sprintf("✅ The task is complete! Nice.\n#%d %s", task.ID, escape(task.Name)))
}

func (b *Bot) deleteTask(ctx context.Context, chatID int64, taskID uint) error {
	if err := b.deps.Tasks.Delete(ctx, taskID); err != nil {
		return b.sendText(chatID, describeError(err, "delete"))
	}
	return b.sendText(chatID, fmt.Sprintf("🗑 The task was deleted. (#%d)", taskID))
}

func (b *Bot) handleReport(ctx context.Context, chatID int64) error {
	id, ok := session.FromContext(ctx)
	if !ok {
		return b.sendText(chatID, describeError(service.ErrNotAuthenticated, ""))
	}
	user, err := b.deps.Users.FindByID(ctx, id.UserID)
	if err != nil {
		return b.sendText(chatID, describeError(err, ""))
	}
	text, err := b.deps.Reminders.Digest(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(chatID, describeError(err, ""))
	}
	if text == "" {
		text = "🎉 Nothing open. Add a task with /add."
	}
	return b.sendText(chatID, text)
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64) error {
	tasks, err := b.deps.Tasks.List(ctx)
	if err != nil {
		return b.sendText(chatID, describeError(err, ""))
	}
	id, _ := session.FromContext(ctx)

	var closed int
	open := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.IsOpen() {
			open = append(open, task)
		} else {
			closed++
		}
	}
	if len(open) == 0 {
		return b.sendText(chatID, fmt.Sprintf("No open tasks (%d closed). Add one with /add.", closed))
	}

	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].DueDate.Equal(open[j].DueDate) {
			return open[i].DueDate.Before(open[j].DueDate)
		}
		return open[i].ID < open[j].ID
	})

	now := time.Now()
	var builder strings.Builder
	builder.WriteString("📋 <b>Open tasks</b>\n")
	builder.WriteString("Use the buttons to complete or delete your tasks.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for i, task := range open {
		if i == maxListedTasks {
			builder.WriteString(fmt.Sprintf("… and %d more\n", len(open)-maxListedTasks))
			break
		}
		builder.WriteString(service.FormatTask(task, now))
		builder.WriteString(fmt.Sprintf("   👤 %s\n", escape(task.User.Name)))
		if service.CanMutate(id, &open[i]) {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Name, 20)), fmt.Sprintf("%s%d", cbCompletePrefix, task.ID)),
				tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", fmt.Sprintf("%s%d", cbDeletePrefix, task.ID)),
			))
		}
	}
	builder.WriteString(fmt.Sprintf("\n%d closed task(s).", closed))

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	}
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	ctx = b.withSession(ctx, chatID)
	data := cb.Data
	b.ack(cb, "")

	switch {
	case strings.HasPrefix(data, cbCompletePrefix):
		taskID, err := parseTaskID(data, cbCompletePrefix)
		if err != nil {
			return nil
		}
		if err := b.completeTask(ctx, chatID, taskID); err != nil {
			return err
		}
		return b.sendTaskList(ctx, chatID)
	case strings.HasPrefix(data, cbDeletePrefix):
		taskID, err := parseTaskID(data, cbDeletePrefix)
		if err != nil {
			return nil
		}
		text := fmt.Sprintf("Delete task #%d?", taskID)
		return b.sendWithReplyMarkup(chatID, text, confirmDeleteKeyboard(taskID))
	case strings.HasPrefix(data, cbConfirmDeletePrefix):
		taskID, err := parseTaskID(data, cbConfirmDeletePrefix)
		if err != nil {
			return nil
		}
		b.dropPrompt(chatID, cb.Message.MessageID)
		if err := b.deleteTask(ctx, chatID, taskID); err != nil {
			return err
		}
		return b.sendTaskList(ctx, chatID)
	case data == cbCancel:
		b.dropPrompt(chatID, cb.Message.MessageID)
		return nil
	default:
		return nil
	}
}

// dropPrompt removes an answered confirmation message.
func (b *Bot) dropPrompt(chatID int64, messageID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Debug("delete prompt", slog.String("error", err.Error()))
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelTasks):
		return true, b.sendTaskList(ctx, msg.Chat.ID)
	case strings.ToLower(menuLabelAdd):
		return true, b.startAddConversation(ctx, msg.Chat.ID)
	case strings.ToLower(menuLabelReport):
		return true, b.handleReport(ctx, msg.Chat.ID)
	case strings.ToLower(menuLabelHelp):
		return true, b.sendText(msg.Chat.ID, helpText)
	default:
		return false, nil
	}
}

func (b *Bot) withTaskID(chatID int64, args, example string, fn func(id uint) error) error {
	if args == "" {
		return b.sendText(chatID, fmt.Sprintf("Give me a task ID: %s", example))
	}
	id, err := strconv.ParseUint(args, 10, 64)
	if err != nil || id == 0 {
		return b.sendText(chatID, "The task ID must be a positive number.")
	}
	return fn(uint(id))
}

// describeError turns a service error into a chat reply. verb names the
// attempted mutation for Forbidden replies.
func describeError(err error, verb string) string {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		keys := make([]string, 0, len(verr.Fields))
		for k := range verr.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("⚠️ Please fix:")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n• %s: %s", strings.ReplaceAll(k, "_", " "), escape(verr.Fields[k])))
		}
		return sb.String()
	case errors.Is(err, service.ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, service.ErrTooManyAttempts):
		return "Too many login attempts. Try again later."
	case errors.Is(err, service.ErrDuplicateUser):
		return "That username and/or email already exists."
	case errors.Is(err, service.ErrNotAuthenticated):
		return "You need to login first. Use /login &lt;name&gt; &lt;password&gt;."
	case errors.Is(err, service.ErrNotFound):
		return "That task does not exist."
	case errors.Is(err, service.ErrForbidden):
		if verb == "" {
			verb = "update"
		}
		return fmt.Sprintf("You can only %s tasks that belong to you.", verb)
	default:
		return "Something went wrong. Please try again."
	}
}
