package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/tempod/internal/battery"
	"github.com/dokzlo13/tempod/internal/clock"
	"github.com/dokzlo13/tempod/internal/db"
	"github.com/dokzlo13/tempod/internal/display"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/network"
	"github.com/dokzlo13/tempod/internal/power"
	"github.com/dokzlo13/tempod/internal/provider"
	"github.com/dokzlo13/tempod/internal/publish"
	"github.com/dokzlo13/tempod/internal/schedule"
)

// trace records the order collaborators are used in
type trace struct {
	events []string
}

func (t *trace) add(format string, args ...any) {
	t.events = append(t.events, fmt.Sprintf(format, args...))
}

func (t *trace) index(event string) int {
	for i, e := range t.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (t *trace) count(event string) int {
	n := 0
	for _, e := range t.events {
		if e == event {
			n++
		}
	}
	return n
}

// testClock is a local clock tests can move forward
type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type fakeConnector struct {
	tr  *trace
	err error
}

func (f *fakeConnector) Connect(ctx context.Context, ssid, key string) error {
	f.tr.add("connect")
	return f.err
}

func (f *fakeConnector) Connected(ctx context.Context) bool { return f.err == nil }

func (f *fakeConnector) Disconnect(ctx context.Context) error {
	f.tr.add("disconnect")
	return nil
}

type fakeProvider struct {
	tr     *trace
	state  provider.DayColorState
	err    error
	asked  []string
	closed bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchColors(ctx context.Context, today, tomorrow time.Time) (provider.DayColorState, provider.FetchOutcome, error) {
	f.tr.add("fetch")
	f.asked = []string{clock.DayKey(today), clock.DayKey(tomorrow)}
	if f.err != nil {
		return provider.NewDayColorState(), provider.FetchOutcome{HTTPStatus: 500}, f.err
	}
	return f.state, provider.FetchOutcome{Success: true, HTTPStatus: 200, RawPayloadPresent: true}, nil
}

func (f *fakeProvider) Close() error {
	f.tr.add("provider.close")
	f.closed = true
	return nil
}

type fakeSurface struct {
	tr    *trace
	texts []string
}

func (s *fakeSurface) Bounds() image.Rectangle { return image.Rect(0, 0, display.Width, display.Height) }
func (s *fakeSurface) Clear() { s.texts = nil }
func (s *fakeSurface) Text(x, y int, size display.FontSize, text string) int {
	s.texts = append(s.texts, text)
	return x + display.TextWidth(size, text)
}
func (s *fakeSurface) Line(x0, y0, x1, y1 int) {}
func (s *fakeSurface) RoundRect(x, y, w, h, r int) {}
func (s *fakeSurface) Circle(cx, cy, r int, f bool) {}
func (s *fakeSurface) FillRect(x, y, w, h int) {}
func (s *fakeSurface) Commit(ctx context.Context) error {
	s.tr.add("commit")
	return nil
}
func (s *fakeSurface) Close() error {
	s.tr.add("surface.close")
	return nil
}

func (s *fakeSurface) has(text string) bool {
	for _, t := range s.texts {
		if t == text {
			return true
		}
	}
	return false
}

type fakeTimer struct {
	tr    *trace
	calls []int64
}

func (f *fakeTimer) SleepFor(ctx context.Context, us int64) error {
	f.tr.add("sleep")
	f.calls = append(f.calls, us)
	return nil
}

type fakePublisher struct {
	tr        *trace
	summaries []publish.Summary
	onPublish func()
}

func (f *fakePublisher) Publish(ctx context.Context, s publish.Summary) error {
	f.tr.add("publish")
	f.summaries = append(f.summaries, s)
	if f.onPublish != nil {
		f.onPublish()
	}
	return nil
}

type fakeSensor struct{ raw int }

func (f fakeSensor) Sample(ctx context.Context) (int, error) { return f.raw, nil }

type harness struct {
	tr        *trace
	clock     *testClock
	services  *Services
	provider  *fakeProvider
	surface   *fakeSurface
	timer     *fakeTimer
	publisher *fakePublisher
	ledger    *ledger.Ledger
	providers int
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	tz, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return tz
}

func newHarness(t *testing.T, now time.Time, connectErr error) *harness {
	t.Helper()
	tz := paris(t)

	database, err := db.Open(filepath.Join(t.TempDir(), "tempod.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	slots, err := schedule.ParseSlots([]string{"02:00", "06:30", "11:05"})
	if err != nil {
		t.Fatalf("ParseSlots: %v", err)
	}

	tr := &trace{}
	colors := provider.NewDayColorState()
	colors.Today = provider.Red
	colors.DeriveFound()

	h := &harness{
		tr:        tr,
		clock:     &testClock{t: now},
		provider:  &fakeProvider{tr: tr, state: colors},
		surface:   &fakeSurface{tr: tr},
		timer:     &fakeTimer{tr: tr},
		publisher: &fakePublisher{tr: tr},
		ledger:    ledger.New(database.DB, "test"),
	}

	h.services = &Services{
		DB:        database,
		Ledger:    h.ledger,
		Resolver:  clock.NewResolver(h.clock, nil, clock.DefaultRetryPolicy, tz, clock.DefaultMinYear),
		Slots:     slots,
		Sensor:    fakeSensor{raw: 2210},
		Curve:     battery.DefaultCurve(),
		Connector: &fakeConnector{tr: tr, err: connectErr},
		Power:     power.NewController(h.timer, 6*time.Hour),
		Publisher: h.publisher,
		NewProvider: func() provider.Provider {
			h.providers++
			return h.provider
		},
		OpenSurface: func() (display.Surface, io.Closer, error) {
			return h.surface, h.surface, nil
		},
	}
	return h
}

func (h *harness) run(t *testing.T) *Cycle {
	t.Helper()
	p := NewPipeline("test", "ssid", "key", 30*24*time.Hour, h.services)
	c, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	return c
}

func (h *harness) ledgerTypes(t *testing.T, cycleID string) []ledger.EventType {
	t.Helper()
	entries, err := h.ledger.GetByCycle(cycleID)
	if err != nil {
		t.Fatalf("GetByCycle: %v", err)
	}
	var types []ledger.EventType
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	return types
}

func containsType(types []ledger.EventType, want ledger.EventType) bool {
	for _, tt := range types {
		if tt == want {
			return true
		}
	}
	return false
}

func TestRunCycle_HappyPath(t *testing.T) {
	now := time.Date(2024, 6, 1, 7, 0, 0, 0, paris(t))
	h := newHarness(t, now, nil)

	c := h.run(t)

	if c.Colors.Today != provider.Red || !c.Colors.TodayFound {
		t.Errorf("today = %v found=%v, want RED found", c.Colors.Today, c.Colors.TodayFound)
	}
	if c.Colors.TomorrowFound {
		t.Error("tomorrow should not be found")
	}
	if got, want := h.provider.asked, []string{"2024-06-01", "2024-06-02"}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("provider asked for %v, want %v", got, want)
	}
	if !h.surface.has("ROUGE") || !h.surface.has(provider.UnavailableLabel) {
		t.Errorf("rendered texts = %q", h.surface.texts)
	}
	if h.surface.has(display.WiFiMarker) {
		t.Error("wifi marker drawn although connected")
	}

	want := (4*time.Hour + 5*time.Minute).Microseconds()
	if len(h.timer.calls) != 1 || h.timer.calls[0] != want {
		t.Fatalf("sleep calls = %v, want [%d]", h.timer.calls, want)
	}
	if c.Fallback {
		t.Error("cycle should not fall back")
	}
	if !c.Battery.Measured || c.Battery.Percentage == 0 {
		t.Errorf("battery = %+v, want a measured reading", c.Battery)
	}

	// cycle resources are released before sleeping
	sleep := h.tr.index("sleep")
	for _, e := range []string{"provider.close", "surface.close", "commit", "publish"} {
		if i := h.tr.index(e); i < 0 || i > sleep {
			t.Errorf("%s at %d, want before sleep at %d (trace %v)", e, i, sleep, h.tr.events)
		}
	}

	if len(h.publisher.summaries) != 1 {
		t.Fatalf("published %d summaries, want 1", len(h.publisher.summaries))
	}
	if s := h.publisher.summaries[0]; s.SleepSecs != 4*3600+5*60 || s.CycleID != c.ID {
		t.Errorf("summary = %+v", s)
	}

	types := h.ledgerTypes(t, c.ID)
	for _, e := range []ledger.EventType{ledger.EventCycleStarted, ledger.EventClockResolved, ledger.EventFetchCompleted, ledger.EventFrameCommitted, ledger.EventSleepScheduled} {
		if !containsType(types, e) {
			t.Errorf("ledger missing %s, got %v", e, types)
		}
	}
}

func TestRunCycle_ClockUnsetFallsBackOnce(t *testing.T) {
	tests := []struct {
		name       string
		connectErr error
		wantLines  []string
	}{
		{
			name:      "connected_but_unsynced",
			wantLines: []string{"Err de conn ou de synchro: deep", "sleep."},
		},
		{
			name:       "offline",
			connectErr: fmt.Errorf("%w: probe failed", network.ErrUnreachable),
			wantLines:  []string{display.StatusConnectionError, "Err de conn ou de synchro: deep", "sleep."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Date(1970, 1, 1, 0, 0, 12, 0, time.UTC), tt.connectErr)

			c := h.run(t)

			if !errors.Is(c.ClockErr, clock.ErrUnset) {
				t.Errorf("ClockErr = %v, want ErrUnset", c.ClockErr)
			}
			if h.tr.count("sleep") != 1 {
				t.Fatalf("sleep entered %d times, want exactly once", h.tr.count("sleep"))
			}
			if h.timer.calls[0] != (6 * time.Hour).Microseconds() {
				t.Errorf("slept %dus, want the 6h fallback", h.timer.calls[0])
			}
			if h.providers != 0 || h.tr.count("fetch") != 0 {
				t.Error("provider must not be used without a trustworthy clock")
			}
			if h.tr.count("publish") != 0 {
				t.Error("nothing should be published without a trustworthy clock")
			}
			if !c.Fallback || c.FallbackReason != "clock unset" {
				t.Errorf("fallback = %v %q", c.Fallback, c.FallbackReason)
			}
			if fmt.Sprint(h.surface.texts) != fmt.Sprint(tt.wantLines) {
				t.Errorf("status lines = %q, want %q", h.surface.texts, tt.wantLines)
			}

			types := h.ledgerTypes(t, c.ID)
			if !containsType(types, ledger.EventClockUnset) || !containsType(types, ledger.EventSleepFallback) {
				t.Errorf("ledger = %v, want clock_unset and sleep_fallback", types)
			}
		})
	}
}

func TestRunCycle_OfflineRendersMarker(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 0, 0, 0, paris(t))
	h := newHarness(t, now, fmt.Errorf("%w: nmcli failed", network.ErrUnreachable))

	c := h.run(t)

	if !c.WiFiFailed {
		t.Error("WiFiFailed should be set")
	}
	if h.providers != 0 {
		t.Error("fetch must be skipped when offline")
	}
	if !errors.Is(c.FetchErr, network.ErrUnreachable) {
		t.Errorf("FetchErr = %v, want network.ErrUnreachable", c.FetchErr)
	}
	if c.Colors.TodayFound || c.Colors.TomorrowFound {
		t.Errorf("colors = %+v, want nothing found", c.Colors)
	}
	if !h.surface.has(display.WiFiMarker) {
		t.Errorf("wifi marker missing from %q", h.surface.texts)
	}
	if h.tr.count("publish") != 0 {
		t.Error("publisher should be skipped when offline")
	}

	// 23:00 -> 02:00 next day
	if want := (3 * time.Hour).Microseconds(); len(h.timer.calls) != 1 || h.timer.calls[0] != want {
		t.Errorf("sleep calls = %v, want [%d]", h.timer.calls, want)
	}
}

func TestRunCycle_ProviderFailureDegrades(t *testing.T) {
	now := time.Date(2024, 6, 1, 7, 0, 0, 0, paris(t))
	h := newHarness(t, now, nil)
	h.provider.err = fmt.Errorf("%w: status 503", provider.ErrBadResponse)

	c := h.run(t)

	if !errors.Is(c.FetchErr, provider.ErrBadResponse) {
		t.Errorf("FetchErr = %v", c.FetchErr)
	}
	if c.Colors.Today != provider.Unavailable || c.Colors.TodayFound {
		t.Errorf("colors = %+v, want unavailable", c.Colors)
	}
	if !h.provider.closed {
		t.Error("provider not closed")
	}
	if c.Fallback || len(h.timer.calls) != 1 {
		t.Errorf("cycle should still schedule normally, fallback=%v calls=%v", c.Fallback, h.timer.calls)
	}
	if !containsType(h.ledgerTypes(t, c.ID), ledger.EventFetchFailed) {
		t.Error("ledger missing fetch_failed")
	}
}

func TestRunCycle_InvalidScheduleFallsBack(t *testing.T) {
	now := time.Date(2024, 6, 1, 7, 0, 0, 0, paris(t))
	h := newHarness(t, now, nil)
	h.services.Slots = nil
	h.services.SlotsErr = schedule.ErrInvalid

	c := h.run(t)

	if !c.Fallback || c.FallbackReason != "invalid schedule" {
		t.Errorf("fallback = %v %q", c.Fallback, c.FallbackReason)
	}
	if len(h.timer.calls) != 1 || h.timer.calls[0] != (6*time.Hour).Microseconds() {
		t.Errorf("sleep calls = %v, want one 6h fallback", h.timer.calls)
	}
	if h.tr.count("commit") != 1 {
		t.Error("frame should still be rendered")
	}
}

func TestRunCycle_NoLedger(t *testing.T) {
	now := time.Date(2024, 6, 1, 7, 0, 0, 0, paris(t))
	h := newHarness(t, now, nil)
	h.services.Ledger = nil
	h.services.Sensor = nil

	c := h.run(t)
	if c.Battery.Measured {
		t.Error("battery should not be measured without a sensor")
	}
	if len(h.timer.calls) != 1 {
		t.Errorf("sleep calls = %v, want 1", h.timer.calls)
	}
}

func TestRunCycle_ReleasesNetworkBeforeSleep(t *testing.T) {
	tests := []struct {
		name       string
		now        func(tz *time.Location) time.Time
		connectErr error
		badSlots   bool
	}{
		{
			name: "scheduled_sleep",
			now:  func(tz *time.Location) time.Time { return time.Date(2024, 6, 1, 7, 0, 0, 0, tz) },
		},
		{
			name: "clock_unset",
			now:  func(tz *time.Location) time.Time { return time.Date(1970, 1, 1, 0, 0, 12, 0, time.UTC) },
		},
		{
			name:       "connect_failed",
			now:        func(tz *time.Location) time.Time { return time.Date(2024, 6, 1, 7, 0, 0, 0, tz) },
			connectErr: fmt.Errorf("%w: nmcli failed", network.ErrUnreachable),
		},
		{
			name:     "invalid_schedule",
			now:      func(tz *time.Location) time.Time { return time.Date(2024, 6, 1, 7, 0, 0, 0, tz) },
			badSlots: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.now(paris(t)), tt.connectErr)
			if tt.badSlots {
				h.services.Slots = nil
				h.services.SlotsErr = schedule.ErrInvalid
			}

			h.run(t)

			if h.tr.count("disconnect") != 1 {
				t.Fatalf("network released %d times, want once (trace %v)", h.tr.count("disconnect"), h.tr.events)
			}
			connect, disconnect, sleep := h.tr.index("connect"), h.tr.index("disconnect"), h.tr.index("sleep")
			if connect < 0 || connect > disconnect {
				t.Errorf("disconnect at %d before connect at %d (trace %v)", disconnect, connect, h.tr.events)
			}
			if sleep < 0 || disconnect > sleep {
				t.Errorf("disconnect at %d, want before sleep at %d (trace %v)", disconnect, sleep, h.tr.events)
			}
			if i := h.tr.index("publish"); i >= 0 && i > disconnect {
				t.Errorf("publish at %d after the network was released at %d", i, disconnect)
			}
		})
	}
}

func TestRunCycle_SleepAccountsForPublishTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 7, 0, 0, 0, paris(t))
	h := newHarness(t, now, nil)
	h.publisher.onPublish = func() {
		h.clock.t = h.clock.t.Add(20 * time.Second)
	}

	c := h.run(t)

	want := 4*time.Hour + 5*time.Minute - 20*time.Second
	if len(h.timer.calls) != 1 || h.timer.calls[0] != want.Microseconds() {
		t.Fatalf("sleep calls = %v, want [%d]", h.timer.calls, want.Microseconds())
	}
	if !c.Decision.NextWake.Equal(time.Date(2024, 6, 1, 11, 5, 0, 0, paris(t))) {
		t.Errorf("NextWake = %v, want 11:05 the same day", c.Decision.NextWake)
	}
	if c.Sleep != want {
		t.Errorf("Sleep = %v, want %v", c.Sleep, want)
	}
}
