package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskr/internal/model"
	"taskr/internal/repository"
	"taskr/internal/session"
)

type fixture struct {
	users    *repository.UserRepository
	tasks    *repository.TaskRepository
	sessions *session.TokenStore
	auth     *AuthService
	taskSvc  *TaskService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...AuthOption) *fixture {
	t.Helper()
	db, err := repository.NewDB("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f := &fixture{
		users:    repository.NewUserRepository(db),
		tasks:    repository.NewTaskRepository(db),
		sessions: session.NewTokenStore("test-secret", time.Hour),
	}
	opts = append([]AuthOption{WithBcryptCost(bcrypt.MinCost)}, opts...)
	f.auth = NewAuthService(f.users, f.sessions, discardLogger(), opts...)
	f.taskSvc = NewTaskService(f.tasks, discardLogger())
	f.taskSvc.now = func() time.Time { return time.Date(2014, 2, 4, 15, 30, 0, 0, time.UTC) }
	return f
}

func (f *fixture) register(t *testing.T, name, email, password string) *model.User {
	t.Helper()
	user, err := f.auth.Register(context.Background(), RegisterInput{Name: name, Email: email, Password: password, Confirm: password})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return user
}

func (f *fixture) admin(t *testing.T, name, email, password string) *model.User {
	t.Helper()
	user, err := f.auth.EnsureAdmin(context.Background(), name, email, password)
	if err != nil {
		t.Fatalf("ensure admin %s: %v", name, err)
	}
	return user
}

// loginCtx logs in and returns a request context carrying the identity.
func (f *fixture) loginCtx(t *testing.T, name, password string) context.Context {
	t.Helper()
	res, err := f.auth.Login(context.Background(), name, password)
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	id, err := f.auth.Identify(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("identify %s: %v", name, err)
	}
	return session.WithIdentity(context.Background(), id)
}

func (f *fixture) createTask(t *testing.T, ctx context.Context) *model.Task {
	t.Helper()
	task, err := f.taskSvc.Create(ctx, TaskInput{Name: "Go to the bank", DueDate: "02/05/2014", Priority: "1"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}
