package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"taskr/internal/model"
	"taskr/internal/pkg/metrics"
	"taskr/internal/pkg/notify"
	"taskr/internal/repository"
)

const (
	iconDefault = "🟢"
	iconDue     = "⏳"
	iconOverdue = "⚠️"

	dueSoonWindow = 48 * time.Hour
)

// ReminderService builds digests of open tasks and hands them to notifiers.
type ReminderService struct {
	users     *repository.UserRepository
	tasks     *repository.TaskRepository
	notifiers []notify.Notifier
	logger    *slog.Logger
}

func NewReminderService(users *repository.UserRepository, tasks *repository.TaskRepository, logger *slog.Logger, notifiers ...notify.Notifier) *ReminderService {
	return &ReminderService{users: users, tasks: tasks, logger: logger, notifiers: notifiers}
}

// AddNotifier registers another delivery channel.
func (s *ReminderService) AddNotifier(n notify.Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Digest renders the user's open tasks, earliest due first. It returns an
// empty string when nothing is open.
func (s *ReminderService) Digest(ctx context.Context, user model.User, now time.Time) (string, error) {
	tasks, err := s.tasks.ListOpenByUser(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("list open tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "", nil
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 <b>Open tasks for %s</b>\n", html.EscapeString(user.Name)))
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("2006-01-02")))
	for _, task := range tasks {
		builder.WriteString(FormatTask(task, now))
	}
	return strings.TrimSpace(builder.String()), nil
}

// SendReminders delivers a digest to every user with open tasks over every
// notifier. Failures are logged and counted, not returned, so that one
// unreachable user does not block the rest.
func (s *ReminderService) SendReminders(ctx context.Context, now time.Time) error {
	if len(s.notifiers) == 0 {
		return nil
	}
	users, err := s.users.ListWithOpenTasks(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		user := &users[i]
		text, err := s.Digest(ctx, *user, now)
		if err != nil {
			s.logger.Warn("build digest failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
			continue
		}
		if text == "" {
			continue
		}
		for _, n := range s.notifiers {
			err := n.Notify(ctx, user, "Open tasks", text)
			switch {
			case errors.Is(err, notify.ErrNoAddress):
				metrics.RemindersSentTotal.WithLabelValues(n.Channel(), "skipped").Inc()
			case err != nil:
				metrics.RemindersSentTotal.WithLabelValues(n.Channel(), "error").Inc()
				s.logger.Warn("send reminder failed", slog.String("channel", n.Channel()),
					slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
			default:
				metrics.RemindersSentTotal.WithLabelValues(n.Channel(), "ok").Inc()
			}
		}
	}
	return nil
}

// FormatTask renders one task as an HTML line with a due-date marker.
func FormatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	today := calendarDate(now)
	due := calendarDate(task.DueDate)
	icon := iconDefault
	switch {
	case due.Before(today):
		icon = iconOverdue
	case due.Sub(today) <= dueSoonWindow:
		icon = iconDue
	}

	sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s (priority %d)", icon, task.ID, html.EscapeString(strings.TrimSpace(task.Name)), task.Priority))
	if due.Before(today) {
		sb.WriteString(fmt.Sprintf("\n   ⏰ due %s (<b>overdue</b>)", due.Format("2006-01-02")))
	} else {
		daysLeft := int(due.Sub(today).Hours() / 24)
		sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · %d day(s) left", due.Format("2006-01-02"), daysLeft))
	}
	sb.WriteByte('\n')
	return sb.String()
}
