package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskr/internal/model"
	"taskr/internal/pkg/metrics"
	"taskr/internal/repository"
	"taskr/internal/session"
)

// LoginLimiter throttles login attempts per claimed user name.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithLoginLimiter enables login throttling.
func WithLoginLimiter(l LoginLimiter) AuthOption {
	return func(s *AuthService) { s.limiter = l }
}

// WithBcryptCost overrides the hashing cost (tests use bcrypt.MinCost).
func WithBcryptCost(cost int) AuthOption {
	return func(s *AuthService) { s.cost = cost }
}

// AuthService verifies credentials, manages sessions and registers users.
type AuthService struct {
	users    *repository.UserRepository
	sessions session.Store
	limiter  LoginLimiter
	logger   *slog.Logger
	cost     int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(users *repository.UserRepository, sessions session.Store, logger *slog.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:    users,
		sessions: sessions,
		logger:   logger,
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginResult is an established session.
type LoginResult struct {
	Token    string
	Identity session.Identity
}

// Login checks the password and establishes a session for the user.
func (s *AuthService) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		metrics.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	if s.limiter != nil {
		allowed, wait, err := s.limiter.Allow(ctx, strings.ToLower(name))
		switch {
		case err != nil:
			s.logger.Warn("login limiter unavailable", slog.String("error", err.Error()))
		case !allowed:
			metrics.LoginThrottledTotal.Inc()
			s.logger.Warn("login throttled", slog.String("name", name), slog.String("retry_after", wait.String()))
			return nil, ErrTooManyAttempts
		}
	}

	user, err := s.users.FindByName(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Burn the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		metrics.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		s.logger.Info("login rejected", slog.String("name", name))
		return nil, ErrInvalidCredentials
	}

	id := session.Identity{UserID: user.ID, Name: user.Name, Role: user.Role}
	token, err := s.sessions.Establish(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	metrics.AuthAttemptsTotal.WithLabelValues("login", "ok").Inc()
	s.logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)), slog.String("role", string(user.Role)))
	return &LoginResult{Token: token, Identity: id}, nil
}

// Logout clears the session behind token. Clearing an unknown or empty
// token succeeds.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Clear(ctx, token); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	metrics.AuthAttemptsTotal.WithLabelValues("logout", "ok").Inc()
	return nil
}

// Identify resolves a session token into an identity. The name and role
// come from the stored user, so a token for a deleted user is refused and
// role changes apply to sessions that already exist.
func (s *AuthService) Identify(ctx context.Context, token string) (session.Identity, error) {
	id, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return session.Identity{}, err
	}
	user, err := s.users.FindByID(ctx, id.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("session for unknown user", slog.Uint64("user_id", uint64(id.UserID)))
		return session.Identity{}, session.ErrNoSession
	}
	if err != nil {
		return session.Identity{}, fmt.Errorf("find session user: %w", err)
	}
	return session.Identity{UserID: user.ID, Name: user.Name, Role: user.Role}, nil
}

// RegisterInput is the raw registration form.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Confirm  string
}

// Register creates a user with the default role. It does not log them in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	verr := &ValidationError{}
	if name == "" {
		verr.add("name", msgRequired)
	}
	if email == "" {
		verr.add("email", msgRequired)
	}
	if in.Password == "" {
		verr.add("password", msgRequired)
	}
	if in.Confirm == "" {
		verr.add("confirm", msgRequired)
	}
	if in.Password != "" && in.Confirm != "" && in.Password != in.Confirm {
		verr.add("confirm", "Passwords must match.")
	}
	if err := verr.orNil(); err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("register", "invalid").Inc()
		return nil, err
	}

	user, err := s.createUser(ctx, name, email, in.Password, model.RoleUser)
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			metrics.AuthAttemptsTotal.WithLabelValues("register", "duplicate").Inc()
		}
		return nil, err
	}

	metrics.AuthAttemptsTotal.WithLabelValues("register", "ok").Inc()
	s.logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)), slog.String("name", user.Name))
	return user, nil
}

// EnsureAdmin makes sure an admin account called name exists. An existing
// user with that name is promoted; the password of an existing user is left
// untouched.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) (*model.User, error) {
	name = strings.TrimSpace(name)
	user, err := s.users.FindByName(ctx, name)
	switch {
	case err == nil:
		if user.Role != model.RoleAdmin {
			if err := s.users.SetRole(ctx, user.ID, model.RoleAdmin); err != nil {
				return nil, err
			}
			user.Role = model.RoleAdmin
			s.logger.Info("user promoted to admin", slog.String("name", name))
		}
		return user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user, err := s.createUser(ctx, name, strings.ToLower(strings.TrimSpace(email)), password, model.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("create admin: %w", err)
		}
		s.logger.Info("admin account created", slog.String("name", name))
		return user, nil
	default:
		return nil, fmt.Errorf("find admin: %w", err)
	}
}

func (s *AuthService) createUser(ctx context.Context, name, email, password string, role model.Role) (*model.User, error) {
	exists, err := s.users.ExistsByNameOrEmail(ctx, name, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{Name: name, Email: email, Password: string(hash), Role: role}
	if err := s.users.Insert(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.cost)
	})
	return s.dummyHash
}
