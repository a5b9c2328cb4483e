package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"taskr/internal/model"
	"taskr/internal/pkg/metrics"
	"taskr/internal/repository"
	"taskr/internal/service"
	"taskr/internal/session"
)

type testApp struct {
	srv  *httptest.Server
	auth *service.AuthService
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestApp(t *testing.T, store session.Store) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := repository.NewDB("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if store == nil {
		store = session.NewTokenStore("test-secret", time.Hour)
	}

	auth := service.NewAuthService(repository.NewUserRepository(db), store, logger, service.WithBcryptCost(bcrypt.MinCost))
	tasks := service.NewTaskService(repository.NewTaskRepository(db), logger)
	s, err := NewServer(auth, tasks, logger, Options{SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, auth: auth}
}

func (a *testApp) client(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &client{t: t, base: a.srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(req *http.Request) (int, string) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func (c *client) get(path string) (int, string) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	return c.do(req)
}

func (c *client) post(path string, form url.Values) (int, string) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) register(name, email, password, confirm string) (int, string) {
	return c.post("/register/", url.Values{"name": {name}, "email": {email}, "password": {password}, "confirm": {confirm}})
}

func (c *client) login(name, password string) (int, string) {
	return c.post("/", url.Values{"name": {name}, "password": {password}})
}

func (c *client) createTask() (int, string) {
	return c.post("/add/", url.Values{"name": {"Go to the bank"}, "due_date": {"02/05/2014"}, "priority": {"1"}})
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Fatalf("expected body to contain %q, got:\n%s", want, body)
	}
}

func assertNotContains(t *testing.T, body, unwanted string) {
	t.Helper()
	if strings.Contains(body, unwanted) {
		t.Fatalf("expected body not to contain %q, got:\n%s", unwanted, body)
	}
}

func TestFormsArePresent(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	status, body := c.get("/")
	if status != http.StatusOK {
		t.Fatalf("login page status %d", status)
	}
	assertContains(t, body, `<form class="form-signin" role="form" method="post" action="/">`)

	status, body = c.get("/register/")
	if status != http.StatusOK {
		t.Fatalf("register page status %d", status)
	}
	assertContains(t, body, `<form action="/register/" method="post">`)
}

func TestLogin(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	status, body := c.login("foo", "bar")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	assertContains(t, body, msgBadLogin)

	c.register("Michael", "michael@realpython.com", "python", "python")
	_, body = c.login(`alert("alert box!");`, "foo")
	assertContains(t, body, msgBadLogin)

	status, body = c.login("Michael", "python")
	if status != http.StatusOK {
		t.Fatalf("expected 200 after redirect, got %d", status)
	}
	assertContains(t, body, msgWelcome)
	assertContains(t, body, "Add a new task:")
}

func TestRegistration(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	_, body := c.register("Michael", "michael@realpython.com", "python", "python")
	assertContains(t, body, msgRegistered)

	status, body := c.register("Michael", "michael@realpython.com", "python", "python")
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	assertContains(t, body, msgUserExists)

	status, body = c.register("", "", "a", "b")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	assertContains(t, body, "This field is required.")
	assertContains(t, body, "Passwords must match.")
}

func TestLogout(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	_, body := c.get("/logout/")
	assertNotContains(t, body, msgGoodbye)

	c.register("Michael", "michael@realpython.com", "python", "python")
	c.login("Michael", "python")
	_, body = c.get("/logout/")
	assertContains(t, body, msgGoodbye)

	_, body = c.get("/tasks/")
	assertContains(t, body, msgLoginFirst)
}

func TestTaskPageAccess(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	_, body := c.get("/tasks/")
	assertContains(t, body, msgLoginFirst)

	c.register("Michael", "michael@realpython.com", "python", "python")
	c.login("Michael", "python")
	status, body := c.get("/tasks/")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	assertContains(t, body, "Add a new task:")
}

func TestUsersCanAddCompleteAndDeleteTasks(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	c.register("Michael", "michael@realpython.com", "python", "python")
	c.login("Michael", "python")

	_, body := c.createTask()
	assertContains(t, body, msgTaskAdded)
	assertContains(t, body, "Go to the bank")
	assertContains(t, body, "02/05/2014")

	_, body = c.post("/complete/1/", nil)
	assertContains(t, body, msgTaskCompleted)

	_, body = c.post("/delete/1/", nil)
	assertContains(t, body, msgTaskDeleted)

	status, body := c.post("/delete/1/", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	assertContains(t, body, msgTaskMissing)

	status, _ = c.post("/complete/abc/", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id, got %d", status)
	}
}

func TestTaskMutationsRejectGet(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	c.register("Michael", "michael@realpython.com", "python", "python")
	c.login("Michael", "python")
	c.createTask()

	for _, path := range []string{"/complete/1/", "/delete/1/"} {
		status, body := c.get(path)
		if status != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", path, status)
		}
		assertNotContains(t, body, msgTaskCompleted)
		assertNotContains(t, body, msgTaskDeleted)
	}

	_, body := c.get("/tasks/")
	assertContains(t, body, "Go to the bank")
	assertContains(t, body, `action="/complete/1/" method="post"`)
	assertContains(t, body, `action="/delete/1/" method="post"`)
}

func TestUsersCannotAddTasksWhenError(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	c.register("Michael", "michael@realpython.com", "python", "python")
	c.login("Michael", "python")

	status, body := c.post("/add/", url.Values{"name": {"Go to the bank"}, "due_date": {""}, "priority": {"1"}})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	assertContains(t, body, "This field is required.")
	assertNotContains(t, body, msgTaskAdded)
}

func TestUsersCannotMutateTasksOfOthers(t *testing.T) {
	app := newTestApp(t, nil)
	michael := app.client(t)
	michael.register("Michael", "michael@realpython.com", "python", "python")
	michael.login("Michael", "python")
	michael.createTask()

	fletcher := app.client(t)
	fletcher.register("Fletcher", "fletcher@realpython.com", "python", "python")
	fletcher.login("Fletcher", "python")

	status, body := fletcher.post("/complete/1/", nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	assertNotContains(t, body, msgTaskCompleted)
	assertContains(t, body, msgCompleteDenied)

	status, body = fletcher.post("/delete/1/", nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	assertNotContains(t, body, msgTaskDeleted)
	assertContains(t, body, msgDeleteDenied)
	assertContains(t, body, "Go to the bank")
}

func TestAdminCanMutateTasksOfOthers(t *testing.T) {
	app := newTestApp(t, nil)
	if _, err := app.auth.EnsureAdmin(context.Background(), "SuperUser", "admin@realpython.com", "superduper"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	michael := app.client(t)
	michael.register("Michael", "michael@realpython.com", "python", "python")
	michael.login("Michael", "python")
	michael.createTask()
	michael.createTask()

	admin := app.client(t)
	admin.login("SuperUser", "superduper")

	_, body := admin.post("/complete/1/", nil)
	assertContains(t, body, msgTaskCompleted)
	assertNotContains(t, body, msgCompleteDenied)

	_, body = admin.post("/delete/2/", nil)
	assertContains(t, body, msgTaskDeleted)
	assertNotContains(t, body, msgDeleteDenied)
}

func TestForgedAdminTokenIsRejected(t *testing.T) {
	app := newTestApp(t, nil)
	michael := app.client(t)
	michael.register("Michael", "michael@realpython.com", "python", "python")
	michael.login("Michael", "python")
	michael.createTask()

	// Signed with the right secret but naming a user that does not exist.
	forged, err := session.NewTokenStore("test-secret", time.Hour).Establish(context.Background(),
		session.Identity{UserID: 999, Name: "root", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	u, _ := url.Parse(app.srv.URL)
	attacker := app.client(t)
	attacker.http.Jar.SetCookies(u, []*http.Cookie{{Name: SessionCookie, Value: forged, Path: "/"}})

	_, body := attacker.post("/delete/1/", nil)
	assertContains(t, body, msgLoginFirst)
	assertNotContains(t, body, msgTaskDeleted)

	_, body = michael.get("/tasks/")
	assertContains(t, body, "Go to the bank")
}

func TestRedisSessionLogoutRevokesToken(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	app := newTestApp(t, session.NewRedisStore(rdb, time.Hour))
	c := app.client(t)
	c.register("Michael", "michael@realpython.com", "python", "python")
	c.login("Michael", "python")

	u, _ := url.Parse(app.srv.URL)
	var token string
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == SessionCookie {
			token = ck.Value
		}
	}
	if token == "" {
		t.Fatalf("expected a session cookie")
	}

	c.get("/logout/")

	replay := app.client(t)
	replay.http.Jar.SetCookies(u, []*http.Cookie{{Name: SessionCookie, Value: token, Path: "/"}})
	_, body := replay.get("/tasks/")
	assertContains(t, body, msgLoginFirst)
}

func TestHealthAndMetrics(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	c.login("nobody", "x")

	status, body := c.get("/healthz")
	if status != http.StatusOK {
		t.Fatalf("healthz status %d", status)
	}
	assertContains(t, body, `"ok"`)

	status, body = c.get("/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics status %d", status)
	}
	assertContains(t, body, "taskr_auth_attempts_total")
}
