// Package booking defines the contract between the bot core and the external
// automation layer that actually renders the portal. The core never scrapes
// pages itself; it only reacts to the structured results a Driver returns.
package booking

import (
	"context"
	"errors"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/account"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/slot"
)

// Failure classes a Driver is expected to surface. The workflow retries
// transient conditions, re-authenticates on expired sessions and gives up on
// the rest.
var (
	// ErrCaptcha means a CAPTCHA gate could not be cleared.
	ErrCaptcha = errors.New("captcha was not solved")

	// ErrPageState means the page rendered in an unexpected state and the
	// read should be retried from the top.
	ErrPageState = errors.New("booking page is in an unexpected state")

	// ErrSessionExpired means the portal timed the login out.
	ErrSessionExpired = errors.New("portal session has expired")

	// ErrAccessDenied means the account has no access to this category's
	// booking page at all.
	ErrAccessDenied = errors.New("account has no access to this booking page")

	// ErrNoCourses means the category page loaded but offered no courses.
	ErrNoCourses = errors.New("no courses available for this category")
)

// IsTransient reports whether an error is worth another page-open attempt
// within the same refresh phase.
func IsTransient(err error) bool {
	return errors.Is(err, ErrCaptcha) || errors.Is(err, ErrPageState)
}

// Driver is one authenticated browsing session against the booking portal.
// All calls block; failures are ordinary returned errors, never fatal to the
// process. Implementations need not be safe for concurrent use: a driver is
// owned by exactly one worker.
type Driver interface {
	// Login authenticates and returns the per-session routing token the
	// portal embeds in its post-login redirect. An empty token from a nil
	// error is a contract violation the caller must treat as failure.
	Login(ctx context.Context) (token string, err error)
	Logout(ctx context.Context) error

	// OpenCategoryPage navigates to the category's booking surface.
	OpenCategoryPage(ctx context.Context, cat session.Category) error

	ReadAvailability(ctx context.Context, cat session.Category) (slot.Collection, error)
	ReadReserved(ctx context.Context, cat session.Category) (slot.Collection, error)
	ReadBooked(ctx context.Context, cat session.Category) (slot.Collection, error)

	// ReadLessonLabel reports the free-text lesson descriptor the portal
	// shows for the category, e.g. "Class 3A Motorcar".
	ReadLessonLabel(ctx context.Context, cat session.Category) (string, error)

	// ReadOtherTeams reports availability in other teams' calendars, keyed
	// by team name. Accounts without the other-team dropdown return an
	// empty map.
	ReadOtherTeams(ctx context.Context, cat session.Category) (map[string]slot.Collection, error)

	// Reserve attempts to reserve the given slots.
	Reserve(ctx context.Context, cat session.Category, slots slot.Collection) error

	// Close releases the underlying automation resources. Always called,
	// even after earlier steps failed.
	Close() error
}

// DriverFactory builds one Driver per account session. workDir is the
// account's private scratch directory, cleared before the session starts.
type DriverFactory interface {
	New(ctx context.Context, acc account.Account, workDir string) (Driver, error)
}
