package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/push"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/telemetry"
)

const (
	DefaultInterval    = time.Minute
	DefaultLookahead   = 10 * time.Minute
	DefaultSendTimeout = 15 * time.Second
	DefaultWorkers     = 4

	markTimeout = 5 * time.Second

	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
)

// Outcome is what happened to one matched appointment during a tick.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoDevice  Outcome = "no_device"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeError     Outcome = "error"
)

// Config controls the watcher's cadence. Zero values take the defaults and
// a nil Location means UTC.
type Config struct {
	Interval  time.Duration
	Lookahead time.Duration
	Location  *time.Location
	// SendTimeout bounds the work for a single appointment: device lookup,
	// claim, send and mark.
	SendTimeout time.Duration
	// Workers is how many appointments of one tick are dispatched at once.
	Workers int
}

// TickReport summarises one tick.
type TickReport struct {
	Target  time.Time
	Matched int
	Results map[Outcome]int
	Err     error
}

func (r TickReport) Count(o Outcome) int { return r.Results[o] }

// Watcher polls for appointments starting Lookahead from now and sends one
// reminder per visit to the provider organization's registered device.
type Watcher struct {
	cfg       Config
	source    ImminentSource
	devices   workforce.DeviceRegistry
	store     LogStore
	sender    push.Sender
	templates *push.TemplateEngine
	logger    zerolog.Logger
	metrics   *telemetry.TelemetryProvider
	now       func() time.Time
}

func NewWatcher(cfg Config, source ImminentSource, devices workforce.DeviceRegistry, store LogStore, sender push.Sender, logger zerolog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Watcher{
		cfg:       cfg,
		source:    source,
		devices:   devices,
		store:     store,
		sender:    sender,
		templates: push.NewTemplateEngine(),
		logger:    logger.With().Str("component", "dispatch-watcher").Logger(),
		now:       time.Now,
	}
}

// WithMetrics records tick and notification counters on tp.
func (w *Watcher) WithMetrics(tp *telemetry.TelemetryProvider) *Watcher {
	w.metrics = tp
	if tp != nil {
		tp.Describe("dispatch_notifications_total", "Push notifications attempted by the watcher.")
		tp.Describe("dispatch_skipped_total", "Matched visits skipped without a send.")
		tp.Describe("dispatch_ticks_total", "Watcher ticks run.")
		tp.Describe("dispatch_tick_errors_total", "Watcher ticks that could not list imminent appointments.")
		tp.Describe("dispatch_tick_duration_seconds", "Wall time of a watcher tick.")
		tp.Describe("dispatch_last_tick_matches", "Appointments matched by the most recent tick.")
	}
	return w
}

// Run ticks immediately and then every Interval until ctx is cancelled. A tick
// in progress when ctx is cancelled runs to completion.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("interval", w.cfg.Interval).
		Dur("lookahead", w.cfg.Lookahead).
		Str("timezone", w.cfg.Location.String()).
		Msg("watcher started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("watcher stopped")
			return nil
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

func (w *Watcher) runTick(parent context.Context) {
	ctx := context.WithoutCancel(parent)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("watcher tick panicked")
		}
	}()
	w.Tick(ctx, w.now())
}

// Tick dispatches reminders for every visit scheduled at now+Lookahead,
// truncated to the minute in the configured location. Each appointment runs
// under its own SendTimeout on one of Workers goroutines, so a failing or
// hanging send never stops the others.
func (w *Watcher) Tick(ctx context.Context, now time.Time) TickReport {
	start := time.Now()
	target := now.In(w.cfg.Location).Add(w.cfg.Lookahead).Truncate(time.Minute)
	day := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	clock := target.Format(clockLayout)

	report := TickReport{Target: target, Results: make(map[Outcome]int)}
	w.inc("dispatch_ticks_total")
	defer func() {
		w.observe("dispatch_tick_duration_seconds", time.Since(start).Seconds())
	}()

	qctx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	matches, err := w.source.Imminent(qctx, day, clock)
	cancel()
	if err != nil {
		report.Err = fmt.Errorf("list imminent appointments: %w", err)
		w.inc("dispatch_tick_errors_total")
		w.logger.Error().Err(err).Str("date", day.Format(dateLayout)).Str("time", clock).Msg("failed to list imminent appointments")
		return report
	}
	report.Matched = len(matches)
	if w.metrics != nil {
		w.metrics.SetGauge("dispatch_last_tick_matches", int64(len(matches)))
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.cfg.Workers)
	)
	for _, m := range matches {
		sem <- struct{}{}
		wg.Add(1)
		go func(m Match) {
			defer wg.Done()
			defer func() { <-sem }()

			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SendTimeout)
			defer cancel()
			o := w.dispatch(mctx, m, day, clock)

			mu.Lock()
			report.Results[o]++
			mu.Unlock()
		}(m)
	}
	wg.Wait()

	if len(matches) > 0 {
		w.logger.Info().
			Str("date", day.Format(dateLayout)).
			Str("time", clock).
			Int("matched", report.Matched).
			Int("sent", report.Count(OutcomeSent)).
			Int("failed", report.Count(OutcomeFailed)).
			Msg("watcher tick complete")
	}
	return report
}

func (w *Watcher) dispatch(ctx context.Context, m Match, day time.Time, clock string) (outcome Outcome) {
	log := w.logger.With().Str("appointment_id", m.AppointmentID).Str("time", clock).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("dispatch panicked")
			outcome = OutcomeError
		}
		w.record(outcome)
	}()

	entry := &Entry{
		AppointmentID:  m.AppointmentID,
		VisitDate:      day,
		VisitTime:      clock,
		WorkerID:       m.WorkerID,
		ProviderMobile: m.ProviderMobile,
		Status:         StatusPending,
	}

	token, err := w.devices.GetActiveDeviceToken(ctx, m.ProviderMobile)
	if err != nil {
		if !errors.Is(err, workforce.ErrNoDevice) {
			log.Error().Err(err).Msg("device lookup failed")
			return OutcomeError
		}
		log.Warn().Str("provider_id", m.ProviderID).Msg("no active device token for provider, skipping")
		reason := "no active device token"
		entry.Status = StatusSkipped
		entry.Error = &reason
		if _, err := w.store.Claim(ctx, entry); err != nil {
			log.Error().Err(err).Msg("failed to record skipped dispatch")
		}
		return OutcomeNoDevice
	}

	data := map[string]string{
		"time":           clock,
		"appointment_id": m.AppointmentID,
		"service":        m.ServiceSubtype,
		"date":           day.Format(dateLayout),
		"worker_name":    m.WorkerName,
	}
	title, body, err := w.templates.Render(push.ReminderTemplate, data)
	if err != nil {
		log.Error().Err(err).Msg("failed to render reminder")
		return OutcomeError
	}
	entry.Payload, _ = json.Marshal(map[string]string{"title": title, "body": body})

	claimed, err := w.store.Claim(ctx, entry)
	if err != nil {
		log.Error().Err(err).Msg("failed to claim dispatch log entry")
		return OutcomeError
	}
	if !claimed {
		log.Debug().Msg("visit already dispatched")
		return OutcomeDuplicate
	}

	if err := w.sender.Send(ctx, token, title, body, map[string]string{"appointment_id": m.AppointmentID}); err != nil {
		log.Error().Err(err).Bool("invalid_token", errors.Is(err, push.ErrInvalidToken)).Msg("push send failed")
		// The send may have used up ctx; the outcome is still recorded.
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
		defer cancel()
		if merr := w.store.MarkFailed(mctx, entry.ID, err.Error()); merr != nil {
			log.Error().Err(merr).Msg("failed to mark dispatch failed")
		}
		return OutcomeFailed
	}
	if err := w.store.MarkSent(ctx, entry.ID); err != nil {
		log.Error().Err(err).Msg("failed to mark dispatch sent")
	}
	log.Info().Str("worker_id", m.WorkerID).Msg("reminder sent")
	return OutcomeSent
}

func (w *Watcher) record(o Outcome) {
	switch o {
	case OutcomeNoDevice, OutcomeDuplicate:
		w.inc("dispatch_skipped_total", telemetry.L("reason", string(o)))
	default:
		w.inc("dispatch_notifications_total", telemetry.L("outcome", string(o)))
	}
}

func (w *Watcher) inc(name string, labels ...telemetry.Label) {
	if w.metrics != nil {
		w.metrics.Inc(name, labels...)
	}
}

func (w *Watcher) observe(name string, v float64) {
	if w.metrics != nil {
		w.metrics.Observe(name, v)
	}
}
