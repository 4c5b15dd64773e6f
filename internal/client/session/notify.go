package session

import "context"

type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a user-facing message raised by the Gate.
type Notification struct {
	Level   Level
	Title   string
	Message string
	Err     error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }
