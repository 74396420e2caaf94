package driver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func testAccount() account.Account {
	return account.Account{Name: "camper", Username: "user", Password: "secret", Enabled: true}
}

func newTestDriver(t *testing.T, handler http.Handler) booking.Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := NewFactory(Config{BaseURL: srv.URL}, testLogger())
	d, err := f.New(context.Background(), testAccount(), "temp/camper")
	require.NoError(t, err)
	return d
}

// sessionMux answers the session-create call and delegates the rest.
func sessionMux(rest func(mux *http.ServeMux)) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	})
	if rest != nil {
		rest(mux)
	}
	return mux
}

func sidecarFailure(code, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
	}
}

func TestFactoryCreatesSession(t *testing.T) {
	var created struct {
		Username string `json:"username"`
		WorkDir  string `json:"work_dir"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	})

	newTestDriver(t, mux)
	assert.Equal(t, "user", created.Username)
	assert.Equal(t, "temp/camper", created.WorkDir)
}

func TestLoginReturnsRoutingToken(t *testing.T) {
	d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
		mux.HandleFunc("POST /sessions/s1/login", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"routing_token": "3100"})
		})
	}))

	token, err := d.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3100", token)
}

func TestErrorCodesMapToSentinels(t *testing.T) {
	cases := map[string]error{
		"captcha_failed":  booking.ErrCaptcha,
		"page_state":      booking.ErrPageState,
		"session_expired": booking.ErrSessionExpired,
		"access_denied":   booking.ErrAccessDenied,
		"no_courses":      booking.ErrNoCourses,
	}
	for code, sentinel := range cases {
		d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
			mux.HandleFunc("POST /sessions/s1/pages/practical", sidecarFailure(code, "portal said no"))
		}))

		err := d.OpenCategoryPage(context.Background(), session.CategoryPractical)
		assert.ErrorIs(t, err, sentinel, "code %s", code)
	}
}

func TestUnknownErrorCodePassesThrough(t *testing.T) {
	d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
		mux.HandleFunc("POST /sessions/s1/login", sidecarFailure("browser_crashed", "tab gone"))
	}))

	_, err := d.Login(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "browser_crashed")
	assert.False(t, booking.IsTransient(err))
}

func TestNonJSONFailureReportsStatus(t *testing.T) {
	d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
		mux.HandleFunc("POST /sessions/s1/login", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		})
	}))

	_, err := d.Login(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestReadAvailabilityDecodesSlots(t *testing.T) {
	d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
		mux.HandleFunc("GET /sessions/s1/pages/practical/available", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"slots": map[string][]string{
				"10/02/2026": {"08:00 - 10:00", "10:00 - 12:00"},
			}})
		})
	}))

	got, err := d.ReadAvailability(context.Background(), session.CategoryPractical)
	require.NoError(t, err)
	assert.Equal(t, slot.Collection{"10/02/2026": {"08:00 - 10:00", "10:00 - 12:00"}}, got)
}

func TestReservePostsSlots(t *testing.T) {
	var got struct {
		Slots map[string][]string `json:"slots"`
	}
	d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
		mux.HandleFunc("POST /sessions/s1/pages/practical/reserve", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		})
	}))

	want := slot.Collection{"10/02/2026": {"08:00 - 10:00"}}
	require.NoError(t, d.Reserve(context.Background(), session.CategoryPractical, want))
	assert.Equal(t, map[string][]string{"10/02/2026": {"08:00 - 10:00"}}, got.Slots)
}

func TestCloseDeletesSession(t *testing.T) {
	deleted := false
	d := newTestDriver(t, sessionMux(func(mux *http.ServeMux) {
		mux.HandleFunc("DELETE /sessions/s1", func(w http.ResponseWriter, r *http.Request) {
			deleted = true
			w.WriteHeader(http.StatusOK)
		})
	}))

	require.NoError(t, d.Close())
	assert.True(t, deleted)
}
