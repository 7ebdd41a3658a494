package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
)

// PlaywrightDriver drives Chromium through the playwright driver process.
type PlaywrightDriver struct {
	cfg      config.BrowserConfig
	timeouts config.TimeoutConfig
	logger   *zap.Logger

	pw      *pw.Playwright
	browser pw.Browser
	context pw.BrowserContext
	page    *pwPage
}

// NewPlaywrightDriver creates a driver; nothing is started until Open.
func NewPlaywrightDriver(cfg config.BrowserConfig, timeouts config.TimeoutConfig, logger *zap.Logger) *PlaywrightDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightDriver{cfg: cfg, timeouts: timeouts, logger: logger.Named("playwright")}
}

// Open implements Driver.
func (d *PlaywrightDriver) Open(ctx context.Context) (Page, error) {
	if d.page != nil {
		return d.page, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.pw = run

	opts := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(d.cfg.IsHeadless()),
		Args:     d.cfg.Flags,
	}
	if d.cfg.Bin != "" {
		opts.ExecutablePath = pw.String(d.cfg.Bin)
	}
	b, err := run.Chromium.Launch(opts)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	d.browser = b

	bctx, err := b.NewContext(pw.BrowserNewContextOptions{
		Viewport: &pw.Size{
			Width:  d.cfg.GetViewportWidth(),
			Height: d.cfg.GetViewportHeight(),
		},
	})
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	d.context = bctx

	page, err := bctx.NewPage()
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	d.logger.Info("chromium launched", zap.Bool("headless", d.cfg.IsHeadless()))

	d.page = &pwPage{
		page:   page,
		action: d.timeouts.StandardWait(),
		load:   d.timeouts.PageLoadTimeout(),
	}
	return d.page, nil
}

// Close implements Driver. Errors from an already closed browser are ignored.
func (d *PlaywrightDriver) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil && !IsClosedError(err) {
			firstErr = err
		}
	}
	if d.context != nil {
		keep(d.context.Close())
		d.context = nil
	}
	if d.browser != nil {
		keep(d.browser.Close())
		d.browser = nil
	}
	if d.pw != nil {
		keep(d.pw.Stop())
		d.pw = nil
	}
	d.page = nil
	return firstErr
}

type pwPage struct {
	page   pw.Page
	action time.Duration
	load   time.Duration
}

func millis(d time.Duration) *float64 {
	return pw.Float(float64(d.Milliseconds()))
}

// first returns the first match of loc, failing fast when nothing matches so
// callers do not sit out playwright's auto-wait.
func (p *pwPage) first(ctx context.Context, loc Locator) (pw.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := p.page.Locator(loc.String())
	n, err := all.Count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, loc)
	}
	return all.First(), nil
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url, pw.PageGotoOptions{
		Timeout:   millis(p.load),
		WaitUntil: pw.WaitUntilStateLoad,
	}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) WaitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   pw.LoadStateNetworkidle,
		Timeout: millis(p.load),
	})
}

func (p *pwPage) Query(ctx context.Context, loc Locator) ([]ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.page.Locator(loc.String()).EvaluateAll("els => els.map(" + elementInfoJS + ")")
	if err != nil {
		return nil, err
	}
	var infos []ElementInfo
	if err := remarshal(res, &infos); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	return infos, nil
}

func (p *pwPage) Fill(ctx context.Context, loc Locator, value string) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	return el.Fill(value, pw.LocatorFillOptions{Timeout: millis(p.action)})
}

func (p *pwPage) InputValue(ctx context.Context, loc Locator) (string, error) {
	el, err := p.first(ctx, loc)
	if err != nil {
		return "", err
	}
	return el.InputValue(pw.LocatorInputValueOptions{Timeout: millis(p.action)})
}

func (p *pwPage) Click(ctx context.Context, loc Locator) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	return el.Click(pw.LocatorClickOptions{Timeout: millis(p.action)})
}

func (p *pwPage) Press(ctx context.Context, loc Locator, key string) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	return el.Press(key, pw.LocatorPressOptions{Timeout: millis(p.action)})
}

func (p *pwPage) IsVisible(ctx context.Context, loc Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.page.Locator(loc.String()).First().IsVisible()
}

func (p *pwPage) IsChecked(ctx context.Context, loc Locator) (bool, error) {
	el, err := p.first(ctx, loc)
	if err != nil {
		return false, err
	}
	return el.IsChecked(pw.LocatorIsCheckedOptions{Timeout: millis(p.action)})
}

func (p *pwPage) Select(ctx context.Context, loc Locator, by SelectBy, value string) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	var values pw.SelectOptionValues
	switch by {
	case SelectByValue:
		values.Values = &[]string{value}
	case SelectByLabel:
		values.Labels = &[]string{value}
	default:
		return fmt.Errorf("unknown select mode %d", by)
	}
	_, err = el.SelectOption(values, pw.LocatorSelectOptionOptions{Timeout: millis(p.action)})
	return err
}

func (p *pwPage) SelectIndex(ctx context.Context, loc Locator, index int) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	_, err = el.SelectOption(pw.SelectOptionValues{Indexes: &[]int{index}}, pw.LocatorSelectOptionOptions{Timeout: millis(p.action)})
	return err
}

func (p *pwPage) Options(ctx context.Context, loc Locator) ([]Option, error) {
	res, err := p.EvalOn(ctx, loc, optionsJS, nil)
	if err != nil {
		return nil, err
	}
	var opts []Option
	if err := json.Unmarshal(res, &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

func (p *pwPage) Eval(ctx context.Context, js string, arg interface{}) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.page.Evaluate(js, arg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (p *pwPage) EvalOn(ctx context.Context, loc Locator, js string, arg interface{}) (json.RawMessage, error) {
	el, err := p.first(ctx, loc)
	if err != nil {
		return nil, err
	}
	res, err := el.Evaluate(js, arg, pw.LocatorEvaluateOptions{Timeout: millis(p.action)})
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (p *pwPage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
