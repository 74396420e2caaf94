package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/booking"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/notify"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/slot"
)

// Phase names the workflow's position inside one category check.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRefreshing
	PhaseEvaluating
	PhaseReserving
	PhaseStandby
	PhaseEscalated
	PhaseCycled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseReserving:
		return "reserving"
	case PhaseStandby:
		return "standby"
	case PhaseEscalated:
		return "escalated"
	case PhaseCycled:
		return "cycled"
	}
	return "unknown"
}

// maxPageOpenAttempts bounds consecutive page-open attempts within one
// refreshing phase. Exceeding it forces a single logout/login escape before
// one final round; the workflow never retries past that.
const maxPageOpenAttempts = 4

// revisionMarker in the practical lesson label means the learner has
// exhausted practical lessons and tests cannot be polled yet.
const revisionMarker = "REVISION"

// WorkflowConfig carries the booking behavior flags, populated once at
// startup and passed by value.
type WorkflowConfig struct {
	AutoReserve        bool
	ReserveForSameDay  bool
	SlotsPerReserve    int
	BookFromOtherTeams bool
}

// Workflow is the per-account booking decision state machine. It is
// re-entered once per category per polling cycle and owns the account's
// session state set for the lifetime of the driver session.
type Workflow struct {
	accountName string
	driver      booking.Driver
	notifier    notify.Notifier
	states      session.Set
	cfg         WorkflowConfig

	// relogin is the escape hatch for expired sessions and exhausted
	// page-open attempts: full logout followed by a fresh login.
	relogin func(context.Context) error

	logger *logrus.Entry
	now    func() time.Time
	phase  Phase
}

func NewWorkflow(
	accountName string,
	driver booking.Driver,
	notifier notify.Notifier,
	states session.Set,
	cfg WorkflowConfig,
	relogin func(context.Context) error,
	logger *logrus.Entry,
) *Workflow {
	if cfg.SlotsPerReserve <= 0 {
		cfg.SlotsPerReserve = 1
	}
	return &Workflow{
		accountName: accountName,
		driver:      driver,
		notifier:    notifier,
		states:      states,
		cfg:         cfg,
		relogin:     relogin,
		logger:      logger,
		now:         time.Now,
		phase:       PhaseIdle,
	}
}

// Phase reports the workflow's current phase.
func (w *Workflow) Phase() Phase {
	return w.phase
}

// RunCategory performs one check of the category within the current poll
// cycle: refresh the session state through the driver, evaluate it against
// the previous cycle and reserve or notify accordingly. Resetting the state
// between poll cycles is the worker's job, because the practical-test gate
// reads the practical category's lesson label after that category's check.
func (w *Workflow) RunCategory(ctx context.Context, cat session.Category) error {
	st := w.states[cat]
	if st == nil {
		st = session.NewState()
		w.states[cat] = st
	}
	logCtx := w.logger.WithField("category", string(cat))

	defer func() {
		w.phase = PhaseIdle
	}()

	// A learner on revision lessons has no practical tests to book; skip
	// the category without touching the portal.
	if cat == session.CategoryPracticalTest {
		if practical := w.states[session.CategoryPractical]; practical != nil &&
			strings.Contains(strings.ToUpper(practical.LessonLabel), revisionMarker) {
			logCtx.Info("Practical lessons are at the revision stage, skipping practical test check")
			w.phase = PhaseStandby
			return nil
		}
	}

	w.phase = PhaseRefreshing
	if err := w.refresh(ctx, cat, st); err != nil {
		if errors.Is(err, booking.ErrAccessDenied) || errors.Is(err, booking.ErrNoCourses) {
			logCtx.WithError(err).Info("Category is not bookable for this account")
			w.phase = PhaseStandby
			return nil
		}
		return fmt.Errorf("refreshing %s: %w", cat, err)
	}

	if cat == session.CategoryPractical && w.cfg.BookFromOtherTeams {
		w.reportOtherTeams(ctx, cat, logCtx)
	}

	w.phase = PhaseEvaluating
	w.evaluate(ctx, cat, st, logCtx)
	w.phase = PhaseCycled
	return nil
}

// refresh pulls the category's current availability, reservations and
// bookings into the session state. Transient page failures are retried up to
// maxPageOpenAttempts; exceeding the ceiling escalates to exactly one forced
// re-login before a final bounded round.
func (w *Workflow) refresh(ctx context.Context, cat session.Category, st *session.State) error {
	escalated := false
	for attempt := 1; ; attempt++ {
		err := w.pollCategory(ctx, cat, st)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		switch {
		case errors.Is(err, booking.ErrSessionExpired):
			w.logger.WithField("category", string(cat)).Info("Portal session timed out, logging out and in again")
			if rerr := w.relogin(ctx); rerr != nil {
				return fmt.Errorf("re-login after session timeout: %w", rerr)
			}
		case booking.IsTransient(err):
			w.logger.WithField("category", string(cat)).WithField("attempt", attempt).WithError(err).Warn("Page open attempt failed")
		default:
			return err
		}

		if attempt <= maxPageOpenAttempts {
			continue
		}
		if escalated {
			return fmt.Errorf("page open attempts exhausted after forced re-login: %w", err)
		}

		escalated = true
		w.phase = PhaseEscalated
		w.logger.WithField("category", string(cat)).Warn("Page open ceiling exceeded, forcing re-login")
		if rerr := w.relogin(ctx); rerr != nil {
			return fmt.Errorf("forced re-login: %w", rerr)
		}
		attempt = 0
		w.phase = PhaseRefreshing
	}
}

// pollCategory performs one authoritative read of the category's booking
// surface. Each poll overwrites the previous cycle's collections wholesale.
func (w *Workflow) pollCategory(ctx context.Context, cat session.Category, st *session.State) error {
	if err := w.driver.OpenCategoryPage(ctx, cat); err != nil {
		return err
	}

	available, err := w.driver.ReadAvailability(ctx, cat)
	if err != nil {
		return err
	}
	reserved, err := w.driver.ReadReserved(ctx, cat)
	if err != nil {
		return err
	}
	booked, err := w.driver.ReadBooked(ctx, cat)
	if err != nil {
		return err
	}
	label, err := w.driver.ReadLessonLabel(ctx, cat)
	if err != nil {
		return err
	}

	st.SetSlots(session.KindAvailable, available)
	st.SetSlots(session.KindReserved, reserved)
	st.SetSlots(session.KindBooked, booked)
	st.LessonLabel = label
	st.VisibleDates = visibleDates(available)
	return nil
}

func visibleDates(c slot.Collection) []string {
	dates := make([]string, 0, len(c))
	for date := range c {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

// evaluate compares the freshly derived earlier-slots set against the cached
// snapshot from the previous cycle and decides between reserving, notifying
// and standing down. Reservation failures are surfaced as notifications, not
// errors: the account stays eligible for the next cycle.
func (w *Workflow) evaluate(ctx context.Context, cat session.Category, st *session.State, logCtx *logrus.Entry) {
	st.ComputeEarlier()

	if st.Earlier.IsEmpty() {
		st.CachedEarlier = slot.Collection{}
		logCtx.Debug("No earlier slots available")
		return
	}

	if slot.Equal(st.Earlier, st.CachedEarlier) {
		// Same opportunity as last cycle; it was already notified or
		// reserved then.
		logCtx.Debug("Earlier slots unchanged since last cycle")
		return
	}

	logCtx.WithField("earlier_slots", st.Earlier.Count()).Info("New earlier slots detected")

	if w.cfg.AutoReserve && st.CanBookNext && !st.HasAutoReserved {
		w.phase = PhaseReserving
		w.reserveEarliest(ctx, cat, st, logCtx)
		return
	}

	w.notify("Earlier slots available", formatSlotReport(w.accountName, cat, st.Earlier))
	st.CachedEarlier = st.Earlier.Clone()
}

// reserveEarliest attempts to reserve the earliest slots from the current
// earlier set, honoring the same-day guard.
func (w *Workflow) reserveEarliest(ctx context.Context, cat session.Category, st *session.State, logCtx *logrus.Entry) {
	candidates := st.Earlier
	if !w.cfg.ReserveForSameDay {
		candidates = dropSameDay(candidates, w.now())
	}

	pick := slot.EarliestN(candidates, w.cfg.SlotsPerReserve, 1)
	if pick.IsEmpty() {
		w.notify("Earlier slots available", formatSlotReport(w.accountName, cat, st.Earlier))
		st.CachedEarlier = st.Earlier.Clone()
		return
	}

	if err := w.driver.Reserve(ctx, cat, pick); err != nil {
		logCtx.WithError(err).Error("Reservation attempt failed")
		w.notify(fmt.Sprintf("[%s] Reservation failed", w.accountName),
			fmt.Sprintf("Failed to reserve %s slot: %v", cat, err))
		return
	}

	if cat == session.CategoryPractical {
		st.HasAutoReserved = true
	}
	for _, k := range pick.Flatten() {
		if err := w.notifier.NotifyBooking(w.accountName, cat, k.Date, k.TimeRange); err != nil {
			logCtx.WithError(err).Warn("Booking notification failed")
		}
	}
	st.CachedEarlier = st.Earlier.Clone()
	logCtx.WithField("reserved_slots", pick.Count()).Info("Reservation placed")
}

// reportOtherTeams emits a report-only notification of slots visible in
// other teams' calendars. These slots never feed the reservation path.
func (w *Workflow) reportOtherTeams(ctx context.Context, cat session.Category, logCtx *logrus.Entry) {
	teams, err := w.driver.ReadOtherTeams(ctx, cat)
	if err != nil {
		logCtx.WithError(err).Warn("Could not read other teams' availability")
		return
	}
	if len(teams) == 0 {
		return
	}

	names := make([]string, 0, len(teams))
	for name, slots := range teams {
		if !slots.IsEmpty() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)

	var report strings.Builder
	for _, name := range names {
		report.WriteString("=======================\n")
		fmt.Fprintf(&report, "%s has slots:\n\n", name)
		for _, k := range teams[name].Flatten() {
			fmt.Fprintf(&report, "%s:\n  -> %s\n", k.Date, k.TimeRange)
		}
	}
	report.WriteString("=======================\n")

	w.notify("Sessions from other teams detected", report.String())
}

func (w *Workflow) notify(title, message string) {
	if err := w.notifier.Notify(title, message); err != nil {
		w.logger.WithError(err).Warn("Notification delivery failed")
	}
}

func dropSameDay(c slot.Collection, now time.Time) slot.Collection {
	out := slot.Collection{}
	for date, times := range c {
		if (slot.Key{Date: date}).SameDay(now) {
			continue
		}
		for _, timeRange := range times {
			out.Add(date, timeRange)
		}
	}
	return out
}

func formatSlotReport(accountName string, cat session.Category, c slot.Collection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Earlier %s slots:\n", accountName, cat)
	for _, k := range c.Flatten() {
		fmt.Fprintf(&b, "%s:\n  -> %s\n", k.Date, k.TimeRange)
	}
	return b.String()
}
