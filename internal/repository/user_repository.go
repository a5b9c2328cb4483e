package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"taskr/internal/model"
)

// ErrDuplicate is returned when a unique column (name, email, chat id) is taken.
var ErrDuplicate = errors.New("duplicate record")

// UserRepository handles persistence of user accounts.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByName(ctx context.Context, name string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByTelegramChatID(ctx context.Context, chatID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_chat_id = ?", chatID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ExistsByNameOrEmail reports whether either identifier is already registered.
func (r *UserRepository) ExistsByNameOrEmail(ctx context.Context, name, email string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("name = ? OR email = ?", name, email).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// Insert creates the user. Unique violations come back as ErrDuplicate.
func (r *UserRepository) Insert(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetRole changes the role of an existing user.
func (r *UserRepository) SetRole(ctx context.Context, userID uint, role model.Role) error {
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		Update("role", role).Error; err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// LinkTelegram attaches a chat to the user, detaching it from whoever held it before.
func (r *UserRepository) LinkTelegram(ctx context.Context, userID uint, chatID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.User{}).
			Where("telegram_chat_id = ? AND id <> ?", chatID, userID).
			Update("telegram_chat_id", nil).Error; err != nil {
			return fmt.Errorf("unlink chat: %w", err)
		}
		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("telegram_chat_id", chatID).Error; err != nil {
			return fmt.Errorf("link chat: %w", err)
		}
		return nil
	})
}

// ListWithOpenTasks returns users owning at least one open task, by id.
func (r *UserRepository) ListWithOpenTasks(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&model.Task{}).Select("user_id").Where("status = ?", model.StatusOpen)).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
