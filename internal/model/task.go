package model

import "time"

// Status is the lifecycle state of a task. The numeric values are stored as is.
type Status int

const (
	StatusComplete Status = 0
	StatusOpen     Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Task is a unit of work owned by a single user.
type Task struct {
	ID         uint      `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	DueDate    time.Time `gorm:"not null"`
	Priority   int       `gorm:"not null"`
	PostedDate time.Time `gorm:"not null;index:idx_task_posted"`
	Status     Status    `gorm:"not null"`
	UserID     uint      `gorm:"not null;index"`
	User       User      `gorm:"foreignKey:UserID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsOpen reports whether the task still awaits completion.
func (t Task) IsOpen() bool {
	return t.Status == StatusOpen
}
