package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/account"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/booking"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/slot"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeDriver is a scriptable booking.Driver. Hooks default to success with
// empty data; counters are safe for concurrent reads after the run.
type fakeDriver struct {
	mu sync.Mutex

	loginFn func(call int) (string, error)
	openFn  func(call int, cat session.Category) error

	availability map[session.Category]slot.Collection
	reservedRows map[session.Category]slot.Collection
	bookedRows   map[session.Category]slot.Collection
	lessonLabels map[session.Category]string
	otherTeams   map[string]slot.Collection
	reserveErr   error

	loginCalls   int
	logoutCalls  int
	openCalls    int
	reserveCalls []slot.Collection
	closed       bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		loginFn:      func(int) (string, error) { return "3100", nil },
		openFn:       func(int, session.Category) error { return nil },
		availability: map[session.Category]slot.Collection{},
		reservedRows: map[session.Category]slot.Collection{},
		bookedRows:   map[session.Category]slot.Collection{},
		lessonLabels: map[session.Category]string{},
		otherTeams:   map[string]slot.Collection{},
	}
}

func (d *fakeDriver) Login(context.Context) (string, error) {
	d.mu.Lock()
	d.loginCalls++
	call := d.loginCalls
	fn := d.loginFn
	d.mu.Unlock()
	return fn(call)
}

func (d *fakeDriver) Logout(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logoutCalls++
	return nil
}

func (d *fakeDriver) OpenCategoryPage(_ context.Context, cat session.Category) error {
	d.mu.Lock()
	d.openCalls++
	call := d.openCalls
	fn := d.openFn
	d.mu.Unlock()
	return fn(call, cat)
}

func (d *fakeDriver) ReadAvailability(_ context.Context, cat session.Category) (slot.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.availability[cat].Clone(), nil
}

func (d *fakeDriver) ReadReserved(_ context.Context, cat session.Category) (slot.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reservedRows[cat].Clone(), nil
}

func (d *fakeDriver) ReadBooked(_ context.Context, cat session.Category) (slot.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bookedRows[cat].Clone(), nil
}

func (d *fakeDriver) ReadLessonLabel(_ context.Context, cat session.Category) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lessonLabels[cat], nil
}

func (d *fakeDriver) ReadOtherTeams(context.Context, session.Category) (map[string]slot.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]slot.Collection{}
	for name, c := range d.otherTeams {
		out[name] = c.Clone()
	}
	return out, nil
}

func (d *fakeDriver) Reserve(_ context.Context, _ session.Category, slots slot.Collection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reserveErr != nil {
		return d.reserveErr
	}
	d.reserveCalls = append(d.reserveCalls, slots.Clone())
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeFactory hands out drivers per account and records which accounts asked.
type fakeFactory struct {
	mu    sync.Mutex
	newFn func(acc account.Account) (booking.Driver, error)
	calls []string
}

func newFakeFactory(newFn func(acc account.Account) (booking.Driver, error)) *fakeFactory {
	if newFn == nil {
		newFn = func(account.Account) (booking.Driver, error) { return newFakeDriver(), nil }
	}
	return &fakeFactory{newFn: newFn}
}

func (f *fakeFactory) New(_ context.Context, acc account.Account, _ string) (booking.Driver, error) {
	f.mu.Lock()
	f.calls = append(f.calls, acc.Name)
	f.mu.Unlock()
	return f.newFn(acc)
}

func (f *fakeFactory) accounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeNotifier records every delivery.
type fakeNotifier struct {
	mu            sync.Mutex
	err           error
	notifications []string
	bookings      []string
}

func (n *fakeNotifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notifications = append(n.notifications, title+"|"+message)
	return nil
}

func (n *fakeNotifier) NotifyBooking(accountName string, cat session.Category, date, timeRange string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.bookings = append(n.bookings, fmt.Sprintf("%s|%s|%s|%s", accountName, cat, date, timeRange))
	return nil
}

func (n *fakeNotifier) notifyCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notifications)
}

// fakeWorkspace tracks scratch directory use without touching the disk.
type fakeWorkspace struct {
	mu     sync.Mutex
	dirErr error
	dirs   map[string]int
	clears map[string]int
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{dirs: map[string]int{}, clears: map[string]int{}}
}

func (w *fakeWorkspace) Dir(accountName string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirErr != nil {
		return "", w.dirErr
	}
	w.dirs[accountName]++
	return filepath.Join("temp", accountName), nil
}

func (w *fakeWorkspace) Clear(accountName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clears[accountName]++
	return nil
}

func (w *fakeWorkspace) clearCount(accountName string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clears[accountName]
}
