// Package notify defines the outbound notification contract. Dispatch is
// best-effort: callers log delivery errors and move on, a failed notification
// never aborts the booking workflow.
package notify

import "github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"

// Notifier sends human-facing alerts. Implementations must be safe for
// concurrent use; a single instance is shared by every account worker.
type Notifier interface {
	Notify(title, message string) error
	NotifyBooking(accountName string, cat session.Category, date, timeRange string) error
}

// Discard is a Notifier that drops everything. Used when notifications are
// disabled in configuration and in tests.
type Discard struct{}

func (Discard) Notify(string, string) error { return nil }

func (Discard) NotifyBooking(string, session.Category, string, string) error { return nil }
