package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskr/internal/model"
)

func TestTaskOperations_RequireSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.taskSvc.List(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("list: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := f.taskSvc.Create(ctx, TaskInput{Name: "x", DueDate: "2014-02-05", Priority: "1"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("create: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := f.taskSvc.Complete(ctx, 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("complete: expected ErrNotAuthenticated, got %v", err)
	}
	if err := f.taskSvc.Delete(ctx, 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("delete: expected ErrNotAuthenticated, got %v", err)
	}
}

func TestCreate_AssignsServerFields(t *testing.T) {
	f := newFixture(t)
	michael := f.register(t, "Michael", "m@x.com", "pw")
	ctx := f.loginCtx(t, "Michael", "pw")

	task := f.createTask(t, ctx)
	if task.UserID != michael.ID {
		t.Fatalf("expected owner %d, got %d", michael.ID, task.UserID)
	}
	if task.Status != model.StatusOpen {
		t.Fatalf("expected open status, got %v", task.Status)
	}
	if want := time.Date(2014, 2, 5, 0, 0, 0, 0, time.UTC); !task.DueDate.Equal(want) {
		t.Fatalf("expected due %v, got %v", want, task.DueDate)
	}
	if want := time.Date(2014, 2, 4, 0, 0, 0, 0, time.UTC); !task.PostedDate.Equal(want) {
		t.Fatalf("expected posted %v, got %v", want, task.PostedDate)
	}

	stored, err := f.tasks.FindByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != model.StatusOpen || stored.UserID != michael.ID || stored.Priority != 1 {
		t.Fatalf("unexpected stored task %+v", stored)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Michael", "m@x.com", "pw")
	ctx := f.loginCtx(t, "Michael", "pw")

	cases := []struct {
		name  string
		in    TaskInput
		field string
	}{
		{"empty name", TaskInput{Name: "", DueDate: "02/05/2014", Priority: "1"}, "name"},
		{"empty due date", TaskInput{Name: "Go to the bank", DueDate: "", Priority: "1"}, "due_date"},
		{"bad due date", TaskInput{Name: "Go to the bank", DueDate: "tomorrow", Priority: "1"}, "due_date"},
		{"empty priority", TaskInput{Name: "Go to the bank", DueDate: "02/05/2014", Priority: ""}, "priority"},
		{"priority too high", TaskInput{Name: "Go to the bank", DueDate: "02/05/2014", Priority: "11"}, "priority"},
		{"priority zero", TaskInput{Name: "Go to the bank", DueDate: "02/05/2014", Priority: "0"}, "priority"},
		{"priority text", TaskInput{Name: "Go to the bank", DueDate: "02/05/2014", Priority: "high"}, "priority"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.taskSvc.Create(ctx, tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected error on %q, got %v", tc.field, verr.Fields)
			}
		})
	}

	if tasks, _ := f.taskSvc.List(ctx); len(tasks) != 0 {
		t.Fatalf("invalid input must create nothing, got %d tasks", len(tasks))
	}
}

func TestComplete_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Michael", "m@x.com", "pw")
	ctx := f.loginCtx(t, "Michael", "pw")
	task := f.createTask(t, ctx)

	for i := 0; i < 2; i++ {
		done, err := f.taskSvc.Complete(ctx, task.ID)
		if err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		if done.Status != model.StatusComplete {
			t.Fatalf("complete %d: expected complete, got %v", i, done.Status)
		}
	}
	stored, _ := f.tasks.FindByID(context.Background(), task.ID)
	if stored.Status != model.StatusComplete {
		t.Fatalf("expected stored status complete, got %v", stored.Status)
	}
}

func TestDelete_NotFound(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Michael", "m@x.com", "pw")
	ctx := f.loginCtx(t, "Michael", "pw")

	if err := f.taskSvc.Delete(ctx, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: expected ErrNotFound, got %v", err)
	}
	if _, err := f.taskSvc.Complete(ctx, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete missing id: expected ErrNotFound, got %v", err)
	}

	task := f.createTask(t, ctx)
	if err := f.taskSvc.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.taskSvc.Delete(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestOtherUserIsForbidden(t *testing.T) {
	f := newFixture(t)
	michael := f.register(t, "Michael", "m@x.com", "pw")
	michaelCtx := f.loginCtx(t, "Michael", "pw")
	task := f.createTask(t, michaelCtx)
	if task.UserID != michael.ID || task.Status != model.StatusOpen {
		t.Fatalf("unexpected task %+v", task)
	}

	f.register(t, "Fletcher", "f@x.com", "pw")
	fletcherCtx := f.loginCtx(t, "Fletcher", "pw")

	if _, err := f.taskSvc.Complete(fletcherCtx, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("complete: expected ErrForbidden, got %v", err)
	}
	if err := f.taskSvc.Delete(fletcherCtx, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete: expected ErrForbidden, got %v", err)
	}
	if errors.Is(ErrForbidden, ErrNotFound) {
		t.Fatalf("forbidden and not found must stay distinct")
	}

	stored, err := f.tasks.FindByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("task must still exist: %v", err)
	}
	if stored.Status != model.StatusOpen {
		t.Fatalf("task must stay open, got %v", stored.Status)
	}

	// The list is shared between users.
	tasks, err := f.taskSvc.List(fletcherCtx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].User.Name != "Michael" {
		t.Fatalf("expected Michael's task in shared list, got %+v", tasks)
	}
}

func TestAdminMayMutateAnyTask(t *testing.T) {
	f := newFixture(t)
	michael := f.register(t, "Michael", "m@x.com", "pw")
	michaelCtx := f.loginCtx(t, "Michael", "pw")
	first := f.createTask(t, michaelCtx)
	second := f.createTask(t, michaelCtx)

	f.admin(t, "SuperUser", "superuser@super.com", "superduper")
	adminCtx := f.loginCtx(t, "SuperUser", "superduper")

	done, err := f.taskSvc.Complete(adminCtx, first.ID)
	if err != nil {
		t.Fatalf("admin complete: %v", err)
	}
	if done.Status != model.StatusComplete {
		t.Fatalf("expected complete, got %v", done.Status)
	}
	if done.UserID != michael.ID {
		t.Fatalf("ownership must not change, got %d", done.UserID)
	}

	if err := f.taskSvc.Delete(adminCtx, second.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := f.tasks.FindByID(context.Background(), second.ID); err == nil {
		t.Fatalf("expected task to be removed")
	}
}

func TestList_OrderedByPostedDateThenID(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Michael", "m@x.com", "pw")
	ctx := f.loginCtx(t, "Michael", "pw")

	f.taskSvc.now = func() time.Time { return time.Date(2014, 2, 6, 9, 0, 0, 0, time.UTC) }
	late := f.createTask(t, ctx)
	f.taskSvc.now = func() time.Time { return time.Date(2014, 2, 4, 9, 0, 0, 0, time.UTC) }
	early1 := f.createTask(t, ctx)
	early2 := f.createTask(t, ctx)

	tasks, err := f.taskSvc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []uint{early1.ID, early2.ID, late.ID}
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(tasks))
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("position %d: expected task %d, got %d", i, id, tasks[i].ID)
		}
	}
}

func TestParseDueDate(t *testing.T) {
	want := time.Date(2014, 2, 5, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"02/05/2014", "2/5/2014", "2/05/2014", "2014-02-05"} {
		got, ok := ParseDueDate(raw)
		if !ok || !got.Equal(want) {
			t.Fatalf("ParseDueDate(%q) = %v %v", raw, got, ok)
		}
	}
	for _, raw := range []string{"05.02.2014", "13/40/2014", ""} {
		if _, ok := ParseDueDate(raw); ok {
			t.Fatalf("ParseDueDate(%q) should fail", raw)
		}
	}
}
