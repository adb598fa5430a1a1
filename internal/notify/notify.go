// Package notify delivers batch run outcomes to operators.
package notify

import (
	"context"
	"errors"
	"time"
)

// Level grades a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Field is one fact about a batch run. Short fields may be laid out side by
// side; channels without room for fields ignore them.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notification is the outcome of one batch run as handed to a channel
type Notification struct {
	Level      Level
	Title      string
	Body       string
	BatchName  string
	BatchRunID string
	At         time.Time
	Fields     []Field
}

// Notifier delivers notifications to one channel
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Multi sends to every notifier and joins their errors
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification
var Discard Notifier = discard{}

type discard struct{}

func (discard) Send(context.Context, Notification) error { return nil }
