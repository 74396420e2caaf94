// Package driver talks to the browser automation sidecar over its JSON API.
// The sidecar owns the actual browser; this adapter maps its session
// endpoints onto the booking.Driver interface.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/account"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/booking"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/slot"
)

// Config locates the sidecar.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Factory creates one sidecar browser session per account. It implements
// booking.DriverFactory.
type Factory struct {
	cfg    Config
	client *http.Client
	logger *logrus.Entry
}

func NewFactory(cfg Config, logger *logrus.Entry) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Factory{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// New asks the sidecar for a fresh browser session bound to the account's
// credentials and scratch directory.
func (f *Factory) New(ctx context.Context, acc account.Account, workDir string) (booking.Driver, error) {
	req := map[string]string{
		"username": acc.Username,
		"password": acc.Password,
		"work_dir": workDir,
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := f.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, fmt.Errorf("creating sidecar session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("sidecar returned an empty session id")
	}

	f.logger.WithField("account", acc.Name).WithField("session_id", resp.SessionID).Debug("Sidecar session created")
	return &remoteDriver{
		factory:   f,
		sessionID: resp.SessionID,
	}, nil
}

// sidecarError is the sidecar's structured failure payload.
type sidecarError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *sidecarError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// mapError converts the sidecar's error codes into the domain sentinels the
// workflow branches on. Unknown codes pass through as-is.
func mapError(e *sidecarError) error {
	switch e.Code {
	case "captcha_failed":
		return fmt.Errorf("%w: %s", booking.ErrCaptcha, e.Message)
	case "page_state":
		return fmt.Errorf("%w: %s", booking.ErrPageState, e.Message)
	case "session_expired":
		return fmt.Errorf("%w: %s", booking.ErrSessionExpired, e.Message)
	case "access_denied":
		return fmt.Errorf("%w: %s", booking.ErrAccessDenied, e.Message)
	case "no_courses":
		return fmt.Errorf("%w: %s", booking.ErrNoCourses, e.Message)
	}
	return e
}

// do performs one JSON round trip against the sidecar.
func (f *Factory) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.cfg.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("building sidecar request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var serr sidecarError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&serr); decodeErr != nil || serr.Code == "" {
			return fmt.Errorf("sidecar request %s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return mapError(&serr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding sidecar response: %w", err)
	}
	return nil
}

// remoteDriver is one sidecar browser session. Safe for use by its owning
// worker goroutine only.
type remoteDriver struct {
	factory   *Factory
	sessionID string
}

func (d *remoteDriver) path(parts ...string) string {
	p := "/sessions/" + url.PathEscape(d.sessionID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (d *remoteDriver) Login(ctx context.Context) (string, error) {
	var resp struct {
		RoutingToken string `json:"routing_token"`
	}
	if err := d.factory.do(ctx, http.MethodPost, d.path("login"), nil, &resp); err != nil {
		return "", err
	}
	return resp.RoutingToken, nil
}

func (d *remoteDriver) Logout(ctx context.Context) error {
	return d.factory.do(ctx, http.MethodPost, d.path("logout"), nil, nil)
}

func (d *remoteDriver) OpenCategoryPage(ctx context.Context, cat session.Category) error {
	return d.factory.do(ctx, http.MethodPost, d.path("pages", string(cat)), nil, nil)
}

func (d *remoteDriver) ReadAvailability(ctx context.Context, cat session.Category) (slot.Collection, error) {
	return d.readSlots(ctx, cat, "available")
}

func (d *remoteDriver) ReadReserved(ctx context.Context, cat session.Category) (slot.Collection, error) {
	return d.readSlots(ctx, cat, "reserved")
}

func (d *remoteDriver) ReadBooked(ctx context.Context, cat session.Category) (slot.Collection, error) {
	return d.readSlots(ctx, cat, "booked")
}

func (d *remoteDriver) readSlots(ctx context.Context, cat session.Category, kind string) (slot.Collection, error) {
	var resp struct {
		Slots map[string][]string `json:"slots"`
	}
	if err := d.factory.do(ctx, http.MethodGet, d.path("pages", string(cat), kind), nil, &resp); err != nil {
		return nil, err
	}

	out := slot.Collection{}
	for date, times := range resp.Slots {
		for _, timeRange := range times {
			out.Add(date, timeRange)
		}
	}
	return out, nil
}

func (d *remoteDriver) ReadLessonLabel(ctx context.Context, cat session.Category) (string, error) {
	var resp struct {
		Label string `json:"label"`
	}
	if err := d.factory.do(ctx, http.MethodGet, d.path("pages", string(cat), "lesson"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Label, nil
}

func (d *remoteDriver) ReadOtherTeams(ctx context.Context, cat session.Category) (map[string]slot.Collection, error) {
	var resp struct {
		Teams map[string]map[string][]string `json:"teams"`
	}
	if err := d.factory.do(ctx, http.MethodGet, d.path("pages", string(cat), "teams"), nil, &resp); err != nil {
		return nil, err
	}

	out := map[string]slot.Collection{}
	for name, slots := range resp.Teams {
		c := slot.Collection{}
		for date, times := range slots {
			for _, timeRange := range times {
				c.Add(date, timeRange)
			}
		}
		out[name] = c
	}
	return out, nil
}

func (d *remoteDriver) Reserve(ctx context.Context, cat session.Category, slots slot.Collection) error {
	req := map[string]any{"slots": slots}
	return d.factory.do(ctx, http.MethodPost, d.path("pages", string(cat), "reserve"), req, nil)
}

func (d *remoteDriver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return d.factory.do(ctx, http.MethodDelete, d.path(), nil, nil)
}
