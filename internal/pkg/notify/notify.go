package notify

import (
	"context"
	"errors"

	"taskr/internal/model"
)

// ErrNoAddress means the user has nothing to deliver to on this channel.
var ErrNoAddress = errors.New("no address for channel")

// Notifier delivers a message to a user over one channel.
//
// Implementations return ErrNoAddress when the user cannot be reached on
// their channel, so callers can skip them without treating it as a failure.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, user *model.User, subject, htmlBody string) error
}
