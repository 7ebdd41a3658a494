// Package session runs one form-filling session end to end: launch the
// browser, fill the start page, then follow the user through the form until
// the window is closed or the context is cancelled.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/facts"
	"github.com/ryanscovill/jp-work-automation/internal/form"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
	"github.com/ryanscovill/jp-work-automation/internal/navigation"
	"github.com/ryanscovill/jp-work-automation/internal/recorder"
)

// Summary describes a finished session.
type Summary struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Pages       []string  `json:"pages"`
	Filled      int       `json:"filled"`
	NotFound    int       `json:"not_found"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Incomplete  []string  `json:"incomplete,omitempty"`
	Interrupted bool      `json:"interrupted"`
	Message     string    `json:"message"`
}

// DriverFactory creates the browser driver for a session.
type DriverFactory func(cfg config.Config, logger *zap.Logger) (browser.Driver, error)

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithDriverFactory replaces browser.NewDriver.
func WithDriverFactory(f DriverFactory) Option {
	return func(o *Orchestrator) { o.newDriver = f }
}

// WithObservers adds fill observers that see every field and page outcome.
func WithObservers(obs ...form.Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs...) }
}

// WithSleep replaces the wait used by the filler and the monitor.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator wires the driver, filler, detector and monitor for a session.
type Orchestrator struct {
	cfg       config.Config
	logger    *zap.Logger
	newDriver DriverFactory
	observers []form.Observer
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu     sync.Mutex
	ledger *facts.Ledger
}

func New(cfg config.Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("session"),
		newDriver: browser.NewDriver,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ledger returns the fill ledger of the most recent session, or nil before
// the first Run.
func (o *Orchestrator) Ledger() *facts.Ledger {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ledger
}

// Run fills the form from record and blocks until the user closes the browser
// or ctx is cancelled. Both count as a normal end and return a nil error.
func (o *Orchestrator) Run(ctx context.Context, record mapping.Record, m mapping.Mapping) (Summary, error) {
	sum := Summary{SessionID: uuid.NewString(), StartedAt: o.now()}
	logger := o.logger.With(zap.String("session_id", sum.SessionID))

	for _, w := range m.Warnings {
		logger.Warn("mapping entry skipped", zap.String("detail", w))
	}
	for _, w := range m.CheckRecord(record) {
		logger.Warn("data record incomplete", zap.String("detail", w))
	}

	ledger, err := facts.NewLedger(o.cfg.Ledger, logger)
	if err != nil {
		return sum, fmt.Errorf("create ledger: %w", err)
	}
	o.mu.Lock()
	o.ledger = ledger
	o.mu.Unlock()

	var rec *recorder.Recorder
	if o.cfg.Recorder.Enable {
		rec, err = recorder.NewRecorder(o.cfg.Recorder.TraceDir)
		if err != nil {
			return sum, fmt.Errorf("create recorder: %w", err)
		}
		if err := rec.Start(sum.SessionID); err != nil {
			return sum, fmt.Errorf("start trace: %w", err)
		}
		defer rec.Close()
	}

	driver, err := o.newDriver(o.cfg, logger)
	if err != nil {
		return sum, fmt.Errorf("create driver: %w", err)
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil && !browser.IsClosedError(cerr) {
			logger.Warn("closing browser failed", zap.Error(cerr))
		}
	}()

	page, err := driver.Open(ctx)
	if err != nil {
		return sum, fmt.Errorf("open browser: %w", err)
	}

	counts := &tally{}
	observers := append([]form.Observer{counts, ledger}, o.observers...)
	if rec != nil {
		observers = append(observers, rec)
	}
	filler := form.NewFiller(page, m, record, form.Options{
		Timeouts:  o.cfg.Timeouts,
		Logger:    logger,
		Observers: observers,
		Sleep:     o.sleep,
	})
	detector := navigation.NewDetector(page, m.PageNames(), logger)

	onDetected := func(d navigation.Detection) {
		ledger.PageDetected(d)
		if rec != nil {
			rec.PageDetected(d)
		}
	}

	finish := func(runErr error) (Summary, error) {
		sum.EndedAt = o.now()
		counts.apply(&sum)
		sum.Incomplete = ledger.IncompletePages()
		sum.Interrupted = ctx.Err() != nil

		switch {
		case runErr == nil:
		case sum.Interrupted || errors.Is(runErr, context.Canceled):
			sum.Interrupted = true
		case browser.IsClosedError(runErr):
		default:
			sum.Message = fmt.Sprintf("session failed: %v", runErr)
			logger.Error("session failed", zap.Error(runErr))
			o.endTrace(rec, sum, logger)
			return sum, runErr
		}

		sum.Message = completionMessage(sum)
		if len(sum.Incomplete) > 0 {
			logger.Warn("pages need attention", zap.Strings("pages", sum.Incomplete))
		}
		if sum.Interrupted {
			logger.Info("interrupted", zap.Int("pages", len(sum.Pages)))
		}
		logger.Info("session ended",
			zap.Strings("pages", sum.Pages),
			zap.Int("filled", sum.Filled),
			zap.Int("not_found", sum.NotFound),
			zap.Int("failed", sum.Failed))
		o.endTrace(rec, sum, logger)
		return sum, nil
	}

	startURL := o.cfg.Target.StartURL()
	logger.Info("opening form", zap.String("url", startURL))
	if err := page.Navigate(ctx, startURL); err != nil {
		if browser.IsClosedError(err) {
			return finish(err)
		}
		return sum, fmt.Errorf("navigate to %s: %w", startURL, err)
	}

	processed := navigation.NewProcessedPages()
	if err := o.fillStartPage(ctx, page, detector, filler, processed, onDetected, logger); err != nil {
		return finish(err)
	}

	monitor := navigation.NewMonitor(navigation.NewPageSignals(page), detector, filler, processed, navigation.MonitorOptions{
		Timeouts: o.cfg.Timeouts,
		Logger:   logger,
		Now:      o.now,
		Sleep:    o.sleep,
		OnTrigger: func(t navigation.Trigger, sig navigation.Signals) {
			if rec != nil {
				rec.Signal(t, sig)
			}
		},
		OnDetected: onDetected,
	})
	logger.Info("monitoring navigation", zap.Strings("processed", processed.Names()))
	return finish(monitor.Run(ctx))
}

// fillStartPage fills whatever page the start URL renders. When the heading
// does not match a configured page the start page name is used.
func (o *Orchestrator) fillStartPage(ctx context.Context, page browser.Page, detector *navigation.Detector, filler *form.Filler, processed *navigation.ProcessedPages, onDetected func(navigation.Detection), logger *zap.Logger) error {
	if err := page.WaitIdle(ctx); err != nil {
		if browser.IsClosedError(err) || ctx.Err() != nil {
			return err
		}
		logger.Warn("start page did not settle", zap.Error(err))
	}
	name := o.cfg.Target.StartPage
	d, err := detector.Detect(ctx)
	switch {
	case err != nil && (browser.IsClosedError(err) || ctx.Err() != nil):
		return err
	case err != nil:
		logger.Warn("initial page detection failed", zap.Error(err))
	case d.OK:
		onDetected(d)
		name = d.Page
	default:
		logger.Info("initial page not recognised, using start page",
			zap.String("heading", d.Heading), zap.String("page", name))
	}

	if _, err := filler.FillPage(ctx, name); err != nil {
		return err
	}
	processed.Add(name)
	return nil
}

func (o *Orchestrator) endTrace(rec *recorder.Recorder, sum Summary, logger *zap.Logger) {
	if rec == nil {
		return
	}
	if err := rec.End(sum); err != nil {
		logger.Warn("writing trace failed", zap.Error(err))
	}
}

func completionMessage(sum Summary) string {
	msg := fmt.Sprintf("Filled %d field(s) across %d page(s)", sum.Filled, len(sum.Pages))
	if sum.NotFound+sum.Failed > 0 {
		msg += fmt.Sprintf("; %d not found, %d failed", sum.NotFound, sum.Failed)
	}
	if sum.Interrupted {
		return msg + ". Session interrupted."
	}
	return msg + ". Browser closed, session ended."
}

// tally counts page outcomes for the Summary.
type tally struct {
	pages                             []string
	filled, notFound, failed, skipped int
}

func (t *tally) FieldDone(form.FieldResult) {}

func (t *tally) PageDone(r form.Report) {
	if !r.Known {
		return
	}
	t.pages = append(t.pages, r.Page)
	t.filled += len(r.Filled)
	t.notFound += len(r.NotFound)
	t.failed += len(r.Failed)
	t.skipped += len(r.Skipped)
}

func (t *tally) apply(s *Summary) {
	s.Pages = append([]string(nil), t.pages...)
	s.Filled = t.filled
	s.NotFound = t.notFound
	s.Failed = t.failed
	s.Skipped = t.skipped
}
