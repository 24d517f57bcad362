package alert

import (
	"context"
	"errors"
	"fmt"
)

// Kind tells receivers what a notification is about.
type Kind string

const (
	KindPriceDrop   Kind = "price_drop"
	KindDailyReport Kind = "daily_report"
)

// Fact is a labelled value shown by chat notifiers.
type Fact struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"-"`
	URL     string `json:"url,omitempty"`
	Facts   []Fact `json:"facts,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// NotificationError reports the notifiers that failed during a broadcast.
// Delivery failures never undo anything already stored.
type NotificationError struct {
	Kind   Kind
	Failed []string
	Errs   []error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Kind, errors.Join(e.Errs...))
}

func (e *NotificationError) Unwrap() []error { return e.Errs }

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Len is the number of registered notifiers.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}

// Broadcast sends a notification to all registered notifiers. A failing
// notifier does not stop the others; failures come back as a
// *NotificationError.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var nerr *NotificationError
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			if nerr == nil {
				nerr = &NotificationError{Kind: n.Kind}
			}
			nerr.Failed = append(nerr.Failed, notifier.Name())
			nerr.Errs = append(nerr.Errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	if nerr != nil {
		return nerr
	}
	return nil
}
