package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/auth"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/push"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/telemetry"
)

type query struct {
	day   string
	clock string
}

type fakeSource struct {
	mu      sync.Mutex
	matches map[query][]Match
	queries []query
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{matches: make(map[query][]Match)}
}

func (s *fakeSource) add(day, clock string, m ...Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := query{day, clock}
	s.matches[q] = append(s.matches[q], m...)
}

func (s *fakeSource) Imminent(_ context.Context, day time.Time, clock string) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := query{day.Format("2006-01-02"), clock}
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.matches[q], nil
}

type panicRegistry struct {
	workforce.DeviceRegistry
	panicFor string
}

func (r *panicRegistry) GetActiveDeviceToken(ctx context.Context, mobile string) (string, error) {
	if mobile == r.panicFor {
		panic("registry exploded")
	}
	return r.DeviceRegistry.GetActiveDeviceToken(ctx, mobile)
}

type fixture struct {
	source  *fakeSource
	devices *workforce.MemoryDeviceRegistry
	store   *MemoryLogStore
	sender  *push.MockSender
	metrics *telemetry.TelemetryProvider
	watcher *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source:  newFakeSource(),
		devices: workforce.NewMemoryDeviceRegistry(),
		store:   NewMemoryLogStore(),
		sender:  &push.MockSender{},
		metrics: telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{}),
	}
	f.watcher = NewWatcher(Config{Lookahead: 10 * time.Minute}, f.source, f.devices, f.store, f.sender, zerolog.Nop()).
		WithMetrics(f.metrics)
	return f
}

func (f *fixture) register(t *testing.T, mobile, token string) {
	t.Helper()
	if err := f.devices.RegisterDevice(context.Background(), &workforce.DeviceToken{Mobile: mobile, Token: token}); err != nil {
		t.Fatalf("register device: %v", err)
	}
}

func match(id, mobile string) Match {
	return Match{
		AppointmentID:  id,
		ServiceSubtype: "physio",
		WorkerID:       "ICSEMP0001",
		WorkerName:     "Asha",
		ProviderID:     "ICSORG0001",
		ProviderMobile: mobile,
	}
}

func at(clock string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04:05", "2026-03-02 "+clock)
	return t
}

func TestTick_SendsOnceForImminentVisit(t *testing.T) {
	f := newFixture(t)
	f.register(t, "9000000001", "tok-1")
	f.source.add("2026-03-02", "10:00", match("ICSPAPT001", "9000000001"))

	report := f.watcher.Tick(context.Background(), at("09:50:00"))
	if report.Err != nil {
		t.Fatalf("unexpected error: %v", report.Err)
	}
	if report.Matched != 1 || report.Count(OutcomeSent) != 1 {
		t.Fatalf("expected one send, got %+v", report)
	}

	calls := f.sender.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 push, got %d", len(calls))
	}
	if calls[0].Token != "tok-1" {
		t.Errorf("expected token tok-1, got %s", calls[0].Token)
	}
	if calls[0].Data["appointment_id"] != "ICSPAPT001" {
		t.Errorf("expected appointment id in data, got %v", calls[0].Data)
	}
	if !strings.Contains(calls[0].Title, "10:00") || !strings.Contains(calls[0].Body, "ICSPAPT001") {
		t.Errorf("unexpected rendering: %q / %q", calls[0].Title, calls[0].Body)
	}

	entries, total, _ := f.store.List(context.Background(), ListFilter{}, 10, 0)
	if total != 1 || entries[0].Status != StatusSent {
		t.Fatalf("expected one sent log entry, got %+v", entries)
	}
	if entries[0].VisitTime != "10:00" || entries[0].VisitDate.Format("2006-01-02") != "2026-03-02" {
		t.Errorf("unexpected visit key %s %s", entries[0].VisitDate, entries[0].VisitTime)
	}
	var payload map[string]string
	if err := json.Unmarshal(entries[0].Payload, &payload); err != nil || payload["title"] != calls[0].Title {
		t.Errorf("expected payload to carry the rendered title, got %s", entries[0].Payload)
	}

	// Same target minute again: the claim is taken, nothing is resent.
	report = f.watcher.Tick(context.Background(), at("09:50:30"))
	if report.Count(OutcomeDuplicate) != 1 {
		t.Errorf("expected duplicate on second tick, got %+v", report.Results)
	}
	if len(f.sender.Calls()) != 1 {
		t.Errorf("expected no resend, got %d pushes", len(f.sender.Calls()))
	}
	if got := f.metrics.Counter("dispatch_skipped_total", telemetry.L("reason", "duplicate")); got != 1 {
		t.Errorf("expected 1 duplicate skip, got %d", got)
	}
	if got := f.metrics.Counter("dispatch_notifications_total", telemetry.L("outcome", "sent")); got != 1 {
		t.Errorf("expected 1 sent, got %d", got)
	}
}

func TestTick_TargetTruncatedToMinute(t *testing.T) {
	f := newFixture(t)
	report := f.watcher.Tick(context.Background(), at("09:50:59"))

	if report.Target.Format("15:04:05") != "10:00:00" {
		t.Errorf("expected target 10:00:00, got %s", report.Target.Format("15:04:05"))
	}
	if len(f.source.queries) != 1 || f.source.queries[0] != (query{"2026-03-02", "10:00"}) {
		t.Errorf("unexpected queries %v", f.source.queries)
	}
}

func TestTick_UsesConfiguredLocation(t *testing.T) {
	f := newFixture(t)
	ist := time.FixedZone("IST", 5*3600+1800)
	f.watcher = NewWatcher(Config{Lookahead: 10 * time.Minute, Location: ist}, f.source, f.devices, f.store, f.sender, zerolog.Nop())

	// 04:20 UTC is 09:50 IST.
	f.watcher.Tick(context.Background(), at("04:20:00"))
	if f.source.queries[0] != (query{"2026-03-02", "10:00"}) {
		t.Errorf("expected IST wall clock 10:00, got %v", f.source.queries[0])
	}
}

func TestTick_CrossesMidnight(t *testing.T) {
	f := newFixture(t)
	f.watcher.Tick(context.Background(), at("23:55:00"))
	if f.source.queries[0] != (query{"2026-03-03", "00:05"}) {
		t.Errorf("expected next-day target, got %v", f.source.queries[0])
	}
}

func TestTick_NoDeviceSkips(t *testing.T) {
	f := newFixture(t)
	f.source.add("2026-03-02", "10:00", match("ICSPAPT001", "9000000009"))

	report := f.watcher.Tick(context.Background(), at("09:50:00"))
	if report.Count(OutcomeNoDevice) != 1 {
		t.Fatalf("expected no_device skip, got %+v", report.Results)
	}
	if len(f.sender.Calls()) != 0 {
		t.Error("expected nothing sent")
	}
	if got := f.metrics.Counter("dispatch_skipped_total", telemetry.L("reason", "no_device")); got != 1 {
		t.Errorf("expected no_device counter 1, got %d", got)
	}
	entries, _, _ := f.store.List(context.Background(), ListFilter{Status: StatusSkipped}, 10, 0)
	if len(entries) != 1 || entries[0].Error == nil {
		t.Errorf("expected a skipped entry with a reason, got %+v", entries)
	}
}

func TestTick_FailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.register(t, "9000000001", "tok-1")
	f.register(t, "9000000002", "tok-2")
	f.register(t, "9000000003", "tok-3")
	f.source.add("2026-03-02", "10:00",
		match("ICSPAPT001", "9000000001"),
		match("ICSPAPT002", "9000000002"),
		match("ICSPAPT003", "9000000003"),
	)
	f.sender.FailFor = "ICSPAPT002"

	report := f.watcher.Tick(context.Background(), at("09:50:00"))
	if report.Count(OutcomeSent) != 2 || report.Count(OutcomeFailed) != 1 {
		t.Fatalf("expected 2 sent and 1 failed, got %+v", report.Results)
	}

	failed, _, _ := f.store.List(context.Background(), ListFilter{Status: StatusFailed}, 10, 0)
	if len(failed) != 1 || failed[0].AppointmentID != "ICSPAPT002" {
		t.Fatalf("expected ICSPAPT002 marked failed, got %+v", failed)
	}
	if failed[0].Error == nil || *failed[0].Error != "push transport unavailable" {
		t.Errorf("expected transport error recorded, got %v", failed[0].Error)
	}

	// A failed visit is not retried on the next tick of the same minute.
	f.sender.FailFor = ""
	f.watcher.Tick(context.Background(), at("09:50:20"))
	if len(f.sender.Calls()) != 3 {
		t.Errorf("expected no retry after failure, got %d pushes", len(f.sender.Calls()))
	}
}

// hangingSender blocks sends for one appointment until their context ends.
type hangingSender struct {
	push.MockSender
	hangFor string
}

func (s *hangingSender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if data["appointment_id"] == s.hangFor {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MockSender.Send(ctx, token, title, body, data)
}

func TestTick_HangingSendDoesNotStarveOthers(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			f := newFixture(t)
			f.register(t, "9000000001", "tok-1")
			f.register(t, "9000000002", "tok-2")
			f.register(t, "9000000003", "tok-3")
			f.source.add("2026-03-02", "10:00",
				match("ICSPAPT001", "9000000001"),
				match("ICSPAPT002", "9000000002"),
				match("ICSPAPT003", "9000000003"),
			)
			sender := &hangingSender{hangFor: "ICSPAPT001"}
			w := NewWatcher(Config{
				Interval:    50 * time.Millisecond,
				Lookahead:   10 * time.Minute,
				SendTimeout: 50 * time.Millisecond,
				Workers:     workers,
			}, f.source, f.devices, f.store, sender, zerolog.Nop())

			report := w.Tick(context.Background(), at("09:50:00"))
			if report.Count(OutcomeSent) != 2 || report.Count(OutcomeFailed) != 1 {
				t.Fatalf("expected 2 sent and 1 failed, got %+v", report.Results)
			}

			sent, _, _ := f.store.List(context.Background(), ListFilter{Status: StatusSent}, 10, 0)
			ids := map[string]bool{}
			for _, e := range sent {
				ids[e.AppointmentID] = true
			}
			if !ids["ICSPAPT002"] || !ids["ICSPAPT003"] {
				t.Errorf("expected the healthy visits sent, got %v", ids)
			}
			failed, _, _ := f.store.List(context.Background(), ListFilter{Status: StatusFailed}, 10, 0)
			if len(failed) != 1 || failed[0].AppointmentID != "ICSPAPT001" {
				t.Errorf("expected only the hanging visit failed, got %+v", failed)
			}
		})
	}
}

func TestTick_PanicRecovered(t *testing.T) {
	f := newFixture(t)
	f.register(t, "9000000001", "tok-1")
	f.register(t, "9000000002", "tok-2")
	f.source.add("2026-03-02", "10:00",
		match("ICSPAPT001", "9000000001"),
		match("ICSPAPT002", "9000000002"),
	)
	f.watcher.devices = &panicRegistry{DeviceRegistry: f.devices, panicFor: "9000000001"}

	report := f.watcher.Tick(context.Background(), at("09:50:00"))
	if report.Count(OutcomeError) != 1 || report.Count(OutcomeSent) != 1 {
		t.Fatalf("expected the panic contained to one appointment, got %+v", report.Results)
	}
	if got := f.metrics.Counter("dispatch_notifications_total", telemetry.L("outcome", "error")); got != 1 {
		t.Errorf("expected error counter 1, got %d", got)
	}
}

func TestTick_SourceError(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("connection refused")

	report := f.watcher.Tick(context.Background(), at("09:50:00"))
	if report.Err == nil {
		t.Fatal("expected tick error")
	}
	if got := f.metrics.Counter("dispatch_tick_errors_total"); got != 1 {
		t.Errorf("expected tick error counter 1, got %d", got)
	}
	if got := f.metrics.Counter("dispatch_ticks_total"); got != 1 {
		t.Errorf("expected tick counter 1, got %d", got)
	}
}

func TestTick_ClaimErrorDoesNotSend(t *testing.T) {
	f := newFixture(t)
	f.register(t, "9000000001", "tok-1")
	f.source.add("2026-03-02", "10:00", match("ICSPAPT001", "9000000001"))
	f.store.ClaimErr = errors.New("log store down")

	report := f.watcher.Tick(context.Background(), at("09:50:00"))
	if report.Count(OutcomeError) != 1 {
		t.Fatalf("expected error outcome, got %+v", report.Results)
	}
	if len(f.sender.Calls()) != 0 {
		t.Error("expected no push without a claimed log entry")
	}
}

func TestTick_ConcurrentWatchersSendOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, "9000000001", "tok-1")
	f.source.add("2026-03-02", "10:00", match("ICSPAPT001", "9000000001"))
	other := NewWatcher(Config{}, f.source, f.devices, f.store, f.sender, zerolog.Nop())

	var wg sync.WaitGroup
	for _, w := range []*Watcher{f.watcher, other, f.watcher, other} {
		wg.Add(1)
		go func(w *Watcher) {
			defer wg.Done()
			w.Tick(context.Background(), at("09:50:00"))
		}(w)
	}
	wg.Wait()

	if len(f.sender.Calls()) != 1 {
		t.Errorf("expected exactly one push across watchers, got %d", len(f.sender.Calls()))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.watcher.cfg.Interval = 5 * time.Millisecond
	f.watcher.now = func() time.Time { return at("09:50:00") }
	f.register(t, "9000000001", "tok-1")
	f.source.add("2026-03-02", "10:00", match("ICSPAPT001", "9000000001"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.watcher.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	if len(f.sender.Calls()) != 1 {
		t.Errorf("expected one push across ticks, got %d", len(f.sender.Calls()))
	}
	if f.metrics.Counter("dispatch_ticks_total") < 2 {
		t.Errorf("expected several ticks, got %d", f.metrics.Counter("dispatch_ticks_total"))
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher(Config{}, newFakeSource(), workforce.NewMemoryDeviceRegistry(), NewMemoryLogStore(), &push.MockSender{}, zerolog.Nop())
	if w.cfg.Interval != DefaultInterval || w.cfg.Lookahead != DefaultLookahead || w.cfg.Location != time.UTC {
		t.Errorf("unexpected defaults %+v", w.cfg)
	}
	if w.cfg.SendTimeout != DefaultSendTimeout || w.cfg.Workers != DefaultWorkers {
		t.Errorf("unexpected per-appointment defaults %+v", w.cfg)
	}
}

func TestHandler_ListEntries(t *testing.T) {
	f := newFixture(t)
	f.register(t, "9000000001", "tok-1")
	f.source.add("2026-03-02", "10:00", match("ICSPAPT001", "9000000001"), match("ICSPAPT002", "9000000002"))
	f.watcher.Tick(context.Background(), at("09:50:00"))

	e := echo.New()
	h := NewHandler(f.store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch-log?status=sent&visit_date=2026-03-02", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Roles: []string{auth.RoleCoordinator}}))
	rec := httptest.NewRecorder()
	if err := h.ListEntries(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Entry `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || body.Data[0].AppointmentID != "ICSPAPT001" {
		t.Errorf("expected the sent entry only, got %+v", body)
	}
}

func TestHandler_RejectsBadFilters(t *testing.T) {
	h := NewHandler(NewMemoryLogStore())
	e := echo.New()
	for _, q := range []string{"status=bogus", "visit_date=02-03-2026"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch-log?"+q, nil)
		err := h.ListEntries(e.NewContext(req, httptest.NewRecorder()))
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", q, err)
		}
	}
}
