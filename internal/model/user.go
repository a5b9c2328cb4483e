package model

import (
	"time"

	"gorm.io/gorm"
)

// Role is the coarse authorization tier of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User stores an account that can log in and own tasks.
type User struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"type:varchar(191);uniqueIndex;not null"`
	Email          string `gorm:"type:varchar(191);uniqueIndex;not null"`
	Password       string `gorm:"not null"` // bcrypt hash
	Role           Role   `gorm:"type:varchar(16);not null;default:user"`
	TelegramChatID *int64 `gorm:"uniqueIndex"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tasks          []Task `gorm:"foreignKey:UserID"`
}

// BeforeCreate fills in the default role for users created without one.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// IsAdmin reports whether the role grants access to other users' tasks.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}
