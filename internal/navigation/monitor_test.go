package navigation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ryanscovill/jp-work-automation/internal/browser/browsertest"
	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/form"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedSignals struct {
	mu    sync.Mutex
	queue []Signals
	errs  []error
	calls int
}

func (s *scriptedSignals) Drain(ctx context.Context) (Signals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return Signals{}, err
		}
	}
	if len(s.queue) == 0 {
		return Signals{}, nil
	}
	sig := s.queue[0]
	s.queue = s.queue[1:]
	return sig, nil
}

type fixedDetector struct {
	det   Detection
	calls int
}

func (d *fixedDetector) Detect(context.Context) (Detection, error) {
	d.calls++
	return d.det, nil
}

type countingFiller struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *countingFiller) FillPage(_ context.Context, name string) (form.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
	return form.Report{Page: name, Known: true}, f.err
}

func (f *countingFiller) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func testOptions(clock *fakeClock) MonitorOptions {
	return MonitorOptions{
		Timeouts: config.DefaultConfig().Timeouts,
		Now:      clock.Now,
		Sleep:    clock.Sleep,
	}
}

func TestProcessedPageIsFilledOnce(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	signals := &scriptedSignals{queue: []Signals{
		{RouteChanges: []string{"/contacts"}},
		{RouteChanges: []string{"/contacts"}},
	}}
	detector := &fixedDetector{det: Detection{Heading: "contacts", Page: "contacts", OK: true}}
	filler := &countingFiller{}

	m := NewMonitor(signals, detector, filler, NewProcessedPages("general-information"), testOptions(clock))
	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))

	assert.Equal(t, 2, detector.calls)
	assert.Equal(t, 1, filler.count("contacts"))
	assert.Equal(t, []string{"general-information", "contacts"}, m.Processed().Names())
}

func TestTickTransitions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	signals := &scriptedSignals{queue: []Signals{{ClickedNext: true}, {ClickedNext: true}}}
	detector := &fixedDetector{det: Detection{Page: "contacts", OK: true}}

	var got []string
	opts := testOptions(clock)
	opts.OnTransition = func(from, to State) { got = append(got, from.String()+">"+to.String()) }
	var triggers []Trigger
	opts.OnTrigger = func(tr Trigger, _ Signals) { triggers = append(triggers, tr) }

	m := NewMonitor(signals, detector, &countingFiller{}, nil, opts)
	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, []string{"idle>detecting", "detecting>filling", "filling>idle"}, got)
	assert.Equal(t, StateIdle, m.State())

	got = nil
	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, []string{"idle>detecting", "detecting>idle"}, got)
	assert.Equal(t, []Trigger{TriggerNext, TriggerNext}, triggers)
	assert.Equal(t, time.Unix(0, 0).Add(2*500*time.Millisecond), clock.now, "next click waits the navigation delay")
}

func TestTickWithoutSignalDoesNotDetect(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	signals := &scriptedSignals{queue: []Signals{
		{Installed: true, ContentSize: 1000},
		{ContentSize: 1200},
		{ContentSize: 2000},
	}}
	detector := &fixedDetector{det: Detection{Page: "contacts", OK: true}}
	filler := &countingFiller{}
	m := NewMonitor(signals, detector, filler, nil, testOptions(clock))

	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, 0, detector.calls)

	require.NoError(t, m.Tick(ctx))
	assert.Equal(t, 1, detector.calls, "content delta above threshold triggers detection")
	assert.Equal(t, 1, filler.count("contacts"))
}

func TestTickReloadAndPeriodic(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	signals := &scriptedSignals{queue: []Signals{
		{Installed: true, ContentSize: 800},
		{Installed: true, ContentSize: 820},
	}}
	detector := &fixedDetector{det: Detection{Heading: "review"}}
	var triggers []Trigger
	opts := testOptions(clock)
	opts.OnTrigger = func(tr Trigger, _ Signals) { triggers = append(triggers, tr) }
	m := NewMonitor(signals, detector, &countingFiller{}, nil, opts)

	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))

	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, m.Tick(ctx))

	assert.Equal(t, []Trigger{TriggerReload, TriggerPeriodic}, triggers)
	assert.Equal(t, 2, detector.calls)
}

func TestRunStopsWhenBrowserCloses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	signals := &scriptedSignals{
		queue: []Signals{{RouteChanges: []string{"/work"}}},
		errs:  []error{nil, errors.New("execution context was destroyed"), browsertest.ErrClosed},
	}
	detector := &fixedDetector{det: Detection{Page: "work-details", OK: true}}
	filler := &countingFiller{}

	m := NewMonitor(signals, detector, filler, nil, testOptions(clock))
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 3, signals.calls, "transient errors keep the loop alive")
	assert.Equal(t, 1, filler.count("work-details"))
}

func TestRunStopsOnCancel(t *testing.T) {
	timeouts := config.DefaultConfig().Timeouts
	timeouts.PollInterval = "1ms"
	m := NewMonitor(&scriptedSignals{}, &fixedDetector{}, &countingFiller{}, nil, MonitorOptions{Timeouts: timeouts})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}

func TestProcessedPages(t *testing.T) {
	p := NewProcessedPages("a")
	p.Add("b")
	p.Add("a")
	assert.True(t, p.Has("a"))
	assert.False(t, p.Has("c"))
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"a", "b"}, p.Names())
}
