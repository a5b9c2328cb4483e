package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"taskr/internal/api/middleware"
	"taskr/internal/model"
	"taskr/internal/service"
	"taskr/internal/session"
)

const (
	msgWelcome         = "Welcome!"
	msgBadLogin        = "Invalid username or password."
	msgThrottled       = "Too many login attempts. Try again later."
	msgGoodbye         = "Goodbye!"
	msgRegistered      = "Thanks for registering. Please login."
	msgUserExists      = "That username and/or email already exists."
	msgLoginFirst      = "You need to login first."
	msgTaskAdded       = "New entry was successfully posted. Thanks!"
	msgTaskCompleted   = "The task is complete! Nice."
	msgTaskDeleted     = "The task was deleted."
	msgCompleteDenied  = "You can only update tasks that belong to you."
	msgDeleteDenied    = "You can only delete tasks that belong to you."
	msgTaskMissing     = "That task does not exist."
	msgInternalFailure = "Something went wrong. Please try again."
)

const dateLayout = "01/02/2006"

type page struct {
	Title      string
	LoggedIn   bool
	Identity   session.Identity
	Flashes    []flash
	Error      string
	Errors     map[string]string
	Form       map[string]string
	Priorities []int
	Open       []taskRow
	Closed     []taskRow
}

type taskRow struct {
	ID         uint
	Name       string
	DueDate    string
	PostedDate string
	Priority   int
	Owner      string
	CanMutate  bool
}

func (s *Server) render(c *gin.Context, status int, name string, p page) {
	p.Flashes = append(popFlashes(c), p.Flashes...)
	p.Identity, p.LoggedIn = session.FromContext(c.Request.Context())
	c.HTML(status, name, p)
}

func (s *Server) handleLoginPage(c *gin.Context) {
	s.render(c, http.StatusOK, "login.html", page{Title: "Login"})
}

func (s *Server) handleLogin(c *gin.Context) {
	name := c.PostForm("name")
	res, err := s.auth.Login(c.Request.Context(), name, c.PostForm("password"))
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		s.render(c, http.StatusUnauthorized, "login.html", page{
			Title: "Login", Error: msgBadLogin, Form: map[string]string{"name": name},
		})
		return
	case errors.Is(err, service.ErrTooManyAttempts):
		s.render(c, http.StatusTooManyRequests, "login.html", page{
			Title: "Login", Error: msgThrottled, Form: map[string]string{"name": name},
		})
		return
	case err != nil:
		s.fail(c, "login", err)
		return
	}

	s.setSessionCookie(c, res.Token)
	addFlash(c, "success", msgWelcome)
	c.Redirect(http.StatusSeeOther, "/tasks/")
}

func (s *Server) handleRegisterPage(c *gin.Context) {
	s.render(c, http.StatusOK, "register.html", page{Title: "Register"})
}

func (s *Server) handleRegister(c *gin.Context) {
	in := service.RegisterInput{
		Name:     c.PostForm("name"),
		Email:    c.PostForm("email"),
		Password: c.PostForm("password"),
		Confirm:  c.PostForm("confirm"),
	}
	form := map[string]string{"name": in.Name, "email": in.Email}

	_, err := s.auth.Register(c.Request.Context(), in)
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		s.render(c, http.StatusBadRequest, "register.html", page{Title: "Register", Errors: verr.Fields, Form: form})
		return
	case errors.Is(err, service.ErrDuplicateUser):
		s.render(c, http.StatusConflict, "register.html", page{Title: "Register", Error: msgUserExists, Form: form})
		return
	case err != nil:
		s.fail(c, "register", err)
		return
	}

	addFlash(c, "success", msgRegistered)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), c.GetString(middleware.TokenKey)); err != nil {
		s.logger.Warn("logout failed", slog.String("error", err.Error()))
	}
	s.clearSessionCookie(c)
	addFlash(c, "info", msgGoodbye)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleTasks(c *gin.Context) {
	s.renderTasks(c, http.StatusOK, page{})
}

func (s *Server) handleAddTask(c *gin.Context) {
	in := service.TaskInput{
		Name:     c.PostForm("name"),
		DueDate:  c.PostForm("due_date"),
		Priority: c.PostForm("priority"),
	}
	_, err := s.tasks.Create(c.Request.Context(), in)
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		s.renderTasks(c, http.StatusBadRequest, page{
			Errors: verr.Fields,
			Form:   map[string]string{"name": in.Name, "due_date": in.DueDate, "priority": in.Priority},
		})
		return
	case err != nil:
		s.fail(c, "create task", err)
		return
	}

	addFlash(c, "success", msgTaskAdded)
	c.Redirect(http.StatusSeeOther, "/tasks/")
}

func (s *Server) handleComplete(c *gin.Context) {
	s.mutateTask(c, msgTaskCompleted, msgCompleteDenied, func(id uint) error {
		_, err := s.tasks.Complete(c.Request.Context(), id)
		return err
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	s.mutateTask(c, msgTaskDeleted, msgDeleteDenied, func(id uint) error {
		return s.tasks.Delete(c.Request.Context(), id)
	})
}

func (s *Server) mutateTask(c *gin.Context, okMsg, deniedMsg string, op func(id uint) error) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		s.renderTasks(c, http.StatusNotFound, page{Error: msgTaskMissing})
		return
	}

	err = op(uint(id))
	switch {
	case errors.Is(err, service.ErrForbidden):
		s.renderTasks(c, http.StatusForbidden, page{Error: deniedMsg})
		return
	case errors.Is(err, service.ErrNotFound):
		s.renderTasks(c, http.StatusNotFound, page{Error: msgTaskMissing})
		return
	case errors.Is(err, service.ErrNotAuthenticated):
		addFlash(c, "danger", msgLoginFirst)
		c.Redirect(http.StatusSeeOther, "/")
		return
	case err != nil:
		s.fail(c, "mutate task", err)
		return
	}

	addFlash(c, "success", okMsg)
	c.Redirect(http.StatusSeeOther, "/tasks/")
}

func (s *Server) renderTasks(c *gin.Context, status int, p page) {
	ctx := c.Request.Context()
	tasks, err := s.tasks.List(ctx)
	if errors.Is(err, service.ErrNotAuthenticated) {
		addFlash(c, "danger", msgLoginFirst)
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	if err != nil {
		s.fail(c, "list tasks", err)
		return
	}

	id, _ := session.FromContext(ctx)
	for i := range tasks {
		row := newTaskRow(id, &tasks[i])
		if tasks[i].IsOpen() {
			p.Open = append(p.Open, row)
		} else {
			p.Closed = append(p.Closed, row)
		}
	}
	p.Title = "Tasks"
	p.Priorities = priorities()
	if p.Form == nil {
		p.Form = map[string]string{"priority": "1"}
	}
	s.render(c, status, "tasks.html", p)
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	s.logger.Error("request failed", slog.String("op", op), slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
	c.String(http.StatusInternalServerError, msgInternalFailure)
}

func newTaskRow(id session.Identity, task *model.Task) taskRow {
	return taskRow{
		ID:         task.ID,
		Name:       task.Name,
		DueDate:    task.DueDate.Format(dateLayout),
		PostedDate: task.PostedDate.Format(dateLayout),
		Priority:   task.Priority,
		Owner:      task.User.Name,
		CanMutate:  service.CanMutate(id, task),
	}
}

func priorities() []int {
	out := make([]int, 0, service.MaxPriority-service.MinPriority+1)
	for p := service.MinPriority; p <= service.MaxPriority; p++ {
		out = append(out, p)
	}
	return out
}
