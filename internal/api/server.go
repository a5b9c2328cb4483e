package api

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskr/internal/api/middleware"
	"taskr/internal/service"
	"taskr/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "taskr_session"

// Options tune cookie behaviour.
type Options struct {
	SessionTTL   time.Duration
	SecureCookie bool
}

// Server is the HTML front-end over the auth gate and the task lifecycle.
type Server struct {
	auth   *service.AuthService
	tasks  *service.TaskService
	logger *slog.Logger
	opts   Options
	router *gin.Engine
}

func NewServer(auth *service.AuthService, tasks *service.TaskService, logger *slog.Logger, opts Options) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Session(auth, SessionCookie, logger))
	r.Use(middleware.RequestLogger(logger))
	r.SetHTMLTemplate(tmpl)

	s := &Server{
		auth:   auth,
		tasks:  tasks,
		logger: logger,
		opts:   opts,
		router: r,
	}
	s.registerRoutes()
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/", s.handleLoginPage)
	s.router.POST("/", s.handleLogin)
	s.router.GET("/register/", s.handleRegisterPage)
	s.router.POST("/register/", s.handleRegister)

	authed := s.router.Group("/", s.requireLogin)
	authed.GET("/logout/", s.handleLogout)
	authed.GET("/tasks/", s.handleTasks)
	authed.POST("/add/", s.handleAddTask)
	authed.POST("/complete/:id/", s.handleComplete)
	authed.POST("/delete/:id/", s.handleDelete)
}

// requireLogin sends anonymous visitors back to the login page.
func (s *Server) requireLogin(c *gin.Context) {
	if _, ok := session.FromContext(c.Request.Context()); ok {
		c.Next()
		return
	}
	addFlash(c, "danger", msgLoginFirst)
	c.Redirect(http.StatusSeeOther, "/")
	c.Abort()
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(s.opts.SessionTTL.Seconds()), "/", "", s.opts.SecureCookie, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", s.opts.SecureCookie, true)
}
