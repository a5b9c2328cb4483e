package service

import (
	"taskr/internal/model"
	"taskr/internal/session"
)

// CanMutate reports whether the identity may complete or delete the task:
// admins may touch any task, everyone else only their own.
func CanMutate(id session.Identity, task *model.Task) bool {
	if task == nil {
		return false
	}
	if id.IsAdmin() {
		return true
	}
	return id.UserID != 0 && id.UserID == task.UserID
}
