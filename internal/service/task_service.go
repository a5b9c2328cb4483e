package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"taskr/internal/model"
	"taskr/internal/pkg/metrics"
	"taskr/internal/repository"
	"taskr/internal/session"
)

const (
	MinPriority = 1
	MaxPriority = 10
)

// DueDateLayouts are the accepted due date formats, tried in order.
var DueDateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02"}

// TaskInput is the raw task form.
type TaskInput struct {
	Name     string
	DueDate  string
	Priority string
}

// TaskService implements the task lifecycle for the identity in the context.
type TaskService struct {
	tasks  *repository.TaskRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewTaskService(tasks *repository.TaskRepository, logger *slog.Logger) *TaskService {
	return &TaskService{tasks: tasks, logger: logger, now: time.Now}
}

// List returns every user's tasks with their owners, oldest first.
func (s *TaskService) List(ctx context.Context) ([]model.Task, error) {
	if _, ok := session.FromContext(ctx); !ok {
		return nil, ErrNotAuthenticated
	}
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Create validates the input and stores an open task owned by the caller.
func (s *TaskService) Create(ctx context.Context, in TaskInput) (*model.Task, error) {
	id, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	name, due, priority, err := parseTaskInput(in)
	if err != nil {
		metrics.TaskOperationsTotal.WithLabelValues("create", "invalid").Inc()
		return nil, err
	}

	task := model.Task{
		Name:       name,
		DueDate:    due,
		Priority:   priority,
		PostedDate: calendarDate(s.now()),
		Status:     model.StatusOpen,
		UserID:     id.UserID,
	}
	if err := s.tasks.Insert(ctx, &task); err != nil {
		metrics.TaskOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	metrics.TaskOperationsTotal.WithLabelValues("create", "ok").Inc()
	s.logger.Info("task created", slog.Uint64("task_id", uint64(task.ID)), slog.Uint64("user_id", uint64(id.UserID)))
	return &task, nil
}

// Complete marks the task complete. Completing a complete task succeeds
// without writing.
func (s *TaskService) Complete(ctx context.Context, taskID uint) (*model.Task, error) {
	return s.mutate(ctx, "complete", taskID, func(tx *repository.TaskRepository, task *model.Task) error {
		if !task.IsOpen() {
			return nil
		}
		if err := tx.UpdateStatus(ctx, task, model.StatusComplete); err != nil {
			return err
		}
		task.Status = model.StatusComplete
		return nil
	})
}

// Delete removes the task permanently.
func (s *TaskService) Delete(ctx context.Context, taskID uint) error {
	_, err := s.mutate(ctx, "delete", taskID, func(tx *repository.TaskRepository, task *model.Task) error {
		return tx.Delete(ctx, task.ID)
	})
	return err
}

// mutate loads the task, checks the policy and applies fn in one transaction.
func (s *TaskService) mutate(ctx context.Context, op string, taskID uint,
	fn func(tx *repository.TaskRepository, task *model.Task) error) (*model.Task, error) {
	id, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	var task *model.Task
	err := s.tasks.WithTx(ctx, func(tx *repository.TaskRepository) error {
		loaded, err := tx.FindByID(ctx, taskID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		if !CanMutate(id, loaded) {
			return ErrForbidden
		}
		if err := fn(tx, loaded); err != nil {
			return err
		}
		task = loaded
		return nil
	})

	switch {
	case errors.Is(err, ErrNotFound):
		metrics.TaskOperationsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, err
	case errors.Is(err, ErrForbidden):
		metrics.TaskOperationsTotal.WithLabelValues(op, "forbidden").Inc()
		s.logger.Info("task mutation forbidden", slog.String("op", op),
			slog.Uint64("task_id", uint64(taskID)), slog.Uint64("user_id", uint64(id.UserID)))
		return nil, err
	case err != nil:
		metrics.TaskOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, err
	}

	metrics.TaskOperationsTotal.WithLabelValues(op, "ok").Inc()
	if task.UserID != id.UserID {
		metrics.AdminOverridesTotal.WithLabelValues(op).Inc()
		s.logger.Info("admin override", slog.String("op", op),
			slog.Uint64("task_id", uint64(task.ID)),
			slog.Uint64("owner_id", uint64(task.UserID)),
			slog.Uint64("admin_id", uint64(id.UserID)),
			slog.String("admin", id.Name))
	}
	return task, nil
}

func parseTaskInput(in TaskInput) (string, time.Time, int, error) {
	verr := &ValidationError{}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.add("name", msgRequired)
	}

	var due time.Time
	rawDue := strings.TrimSpace(in.DueDate)
	if rawDue == "" {
		verr.add("due_date", msgRequired)
	} else if parsed, ok := ParseDueDate(rawDue); ok {
		due = parsed
	} else {
		verr.add("due_date", "Not a valid date value.")
	}

	var priority int
	rawPriority := strings.TrimSpace(in.Priority)
	if rawPriority == "" {
		verr.add("priority", msgRequired)
	} else if p, err := strconv.Atoi(rawPriority); err != nil || p < MinPriority || p > MaxPriority {
		verr.add("priority", fmt.Sprintf("Priority must be between %d and %d.", MinPriority, MaxPriority))
	} else {
		priority = p
	}

	if err := verr.orNil(); err != nil {
		return "", time.Time{}, 0, err
	}
	return name, due, priority, nil
}

// ParseDueDate accepts MM/DD/YYYY, M/D/YYYY and YYYY-MM-DD.
func ParseDueDate(raw string) (time.Time, bool) {
	for _, layout := range DueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
