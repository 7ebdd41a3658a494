package navigation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/form"
)

// State is the monitor's position in its Idle → Detecting → Filling cycle.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateFilling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateFilling:
		return "filling"
	default:
		return "unknown"
	}
}

// Trigger names the signal that moved the monitor out of Idle.
type Trigger string

const (
	TriggerNone     Trigger = ""
	TriggerNext     Trigger = "next_clicked"
	TriggerRoute    Trigger = "route_change"
	TriggerReload   Trigger = "document_reload"
	TriggerContent  Trigger = "content_change"
	TriggerPeriodic Trigger = "periodic"
)

// ProcessedPages is the set of pages already filled in this session, in fill
// order. It is owned by a single goroutine.
type ProcessedPages struct {
	order []string
	seen  map[string]struct{}
}

func NewProcessedPages(names ...string) *ProcessedPages {
	p := &ProcessedPages{seen: make(map[string]struct{})}
	for _, n := range names {
		p.Add(n)
	}
	return p
}

func (p *ProcessedPages) Has(name string) bool {
	_, ok := p.seen[name]
	return ok
}

// Add records name; repeated adds are ignored.
func (p *ProcessedPages) Add(name string) {
	if p.Has(name) {
		return
	}
	p.seen[name] = struct{}{}
	p.order = append(p.order, name)
}

// Names returns the processed pages in fill order.
func (p *ProcessedPages) Names() []string {
	return append([]string(nil), p.order...)
}

func (p *ProcessedPages) Len() int { return len(p.order) }

// PageDetector identifies the page currently rendered.
type PageDetector interface {
	Detect(ctx context.Context) (Detection, error)
}

// PageFiller fills one page by name.
type PageFiller interface {
	FillPage(ctx context.Context, name string) (form.Report, error)
}

// MonitorOptions configures a Monitor. Zero values use real time.
type MonitorOptions struct {
	Timeouts config.TimeoutConfig
	Logger   *zap.Logger
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error

	OnTransition func(from, to State)
	OnTrigger    func(t Trigger, sig Signals)
	OnDetected   func(d Detection)
	OnFilled     func(r form.Report)
}

// Monitor polls navigation signals and fills each newly detected page once.
type Monitor struct {
	signals   SignalSource
	detector  PageDetector
	filler    PageFiller
	processed *ProcessedPages
	opts      MonitorOptions
	logger    *zap.Logger

	state        State
	lastSize     int
	lastPeriodic time.Time
}

func NewMonitor(signals SignalSource, detector PageDetector, filler PageFiller, processed *ProcessedPages, opts MonitorOptions) *Monitor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if processed == nil {
		processed = NewProcessedPages()
	}
	return &Monitor{
		signals:      signals,
		detector:     detector,
		filler:       filler,
		processed:    processed,
		opts:         opts,
		logger:       opts.Logger.Named("monitor"),
		lastPeriodic: opts.Now(),
	}
}

func (m *Monitor) State() State { return m.state }

func (m *Monitor) Processed() *ProcessedPages { return m.processed }

func (m *Monitor) transition(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if m.opts.OnTransition != nil {
		m.opts.OnTransition(from, to)
	}
}

// Run ticks every poll interval until the browser goes away or ctx is
// cancelled; both end the loop with a nil error. Other tick errors are logged
// and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	poll := m.opts.Timeouts.Poll()
	m.logger.Info("monitoring navigation", zap.Duration("poll", poll))
	for {
		if err := m.opts.Sleep(ctx, poll); err != nil {
			return m.stop(ctx, err)
		}
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil || browser.IsClosedError(err) {
				return m.stop(ctx, err)
			}
			m.logger.Warn("navigation check failed", zap.Error(err))
		}
	}
}

func (m *Monitor) stop(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		m.logger.Info("monitor interrupted")
	case browser.IsClosedError(err):
		m.logger.Info("browser closed, stopping monitor")
	default:
		return err
	}
	return nil
}

// Tick drains signals once and, when one is positive, detects and fills.
func (m *Monitor) Tick(ctx context.Context) error {
	sig, err := m.signals.Drain(ctx)
	if err != nil {
		return err
	}
	trigger := m.evaluate(sig)
	if trigger == TriggerNone {
		return nil
	}
	if m.opts.OnTrigger != nil {
		m.opts.OnTrigger(trigger, sig)
	}
	m.logger.Debug("navigation signal", zap.String("trigger", string(trigger)), zap.Strings("routes", sig.RouteChanges))

	m.transition(StateDetecting)
	defer m.transition(StateIdle)
	m.lastPeriodic = m.opts.Now()

	if err := m.opts.Sleep(ctx, m.settleDelay(trigger)); err != nil {
		return err
	}
	det, err := m.detector.Detect(ctx)
	if err != nil {
		return err
	}
	if m.opts.OnDetected != nil {
		m.opts.OnDetected(det)
	}
	if !det.OK {
		m.logger.Debug("no configured page matches heading", zap.String("heading", det.Heading))
		return nil
	}
	if m.processed.Has(det.Page) {
		m.logger.Debug("page already filled", zap.String("page", det.Page))
		return nil
	}

	m.logger.Info("new page detected", zap.String("page", det.Page), zap.String("trigger", string(trigger)))
	m.transition(StateFilling)
	report, err := m.filler.FillPage(ctx, det.Page)
	if err != nil {
		return err
	}
	m.processed.Add(det.Page)
	if m.opts.OnFilled != nil {
		m.opts.OnFilled(report)
	}
	return nil
}

// evaluate picks the strongest positive signal and updates the content
// baseline.
func (m *Monitor) evaluate(sig Signals) Trigger {
	size := sig.ContentSize
	prev := m.lastSize
	if size > 0 {
		m.lastSize = size
	}
	switch {
	case sig.ClickedNext:
		return TriggerNext
	case len(sig.RouteChanges) > 0:
		return TriggerRoute
	case sig.Installed && prev > 0:
		return TriggerReload
	case prev > 0 && size > 0 && abs(size-prev) > m.opts.Timeouts.ContentChangeThreshold:
		return TriggerContent
	case m.opts.Now().Sub(m.lastPeriodic) >= m.opts.Timeouts.PeriodicPageCheck():
		return TriggerPeriodic
	}
	return TriggerNone
}

func (m *Monitor) settleDelay(t Trigger) time.Duration {
	switch t {
	case TriggerNext:
		return m.opts.Timeouts.NavigationWait()
	case TriggerPeriodic:
		return 0
	default:
		return m.opts.Timeouts.StandardWait()
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
