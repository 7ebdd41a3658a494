package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
)

// RodDriver launches Chrome through rod's launcher, or attaches to one via
// browser.debugger_url, and drives a single page over CDP.
type RodDriver struct {
	cfg      config.BrowserConfig
	timeouts config.TimeoutConfig
	logger   *zap.Logger

	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rodPage
}

// NewRodDriver creates a driver; nothing is launched until Open.
func NewRodDriver(cfg config.BrowserConfig, timeouts config.TimeoutConfig, logger *zap.Logger) *RodDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodDriver{cfg: cfg, timeouts: timeouts, logger: logger.Named("rod")}
}

func (d *RodDriver) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(d.cfg.IsHeadless())
	if d.cfg.Bin != "" {
		l = l.Bin(d.cfg.Bin)
	}
	for _, rawFlag := range d.cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Open implements Driver.
func (d *RodDriver) Open(ctx context.Context) (Page, error) {
	if d.page != nil {
		return d.page, nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		d.launch = d.newLauncher()
		u, err := d.launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		d.cleanupLauncher()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = b
	d.logger.Info("browser connected", zap.String("control_url", controlURL))

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.logger.Warn("failed to set viewport", zap.Error(err))
	}

	d.page = &rodPage{
		page:   page,
		action: d.timeouts.StandardWait(),
		load:   d.timeouts.PageLoadTimeout(),
		idle:   d.timeouts.NetworkIdleWindow(),
		logger: d.logger,
	}
	return d.page, nil
}

// Close implements Driver.
func (d *RodDriver) Close() error {
	var err error
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	d.cleanupLauncher()
	d.logger.Debug("browser shutdown complete")
	return err
}

func (d *RodDriver) cleanupLauncher() {
	if d.launch != nil {
		d.launch.Kill()
		d.launch = nil
	}
}

type rodPage struct {
	page   *rod.Page
	action time.Duration
	load   time.Duration
	idle   time.Duration
	logger *zap.Logger
}

var rodKeys = map[string]input.Key{
	"Enter":     input.Enter,
	"Tab":       input.Tab,
	"Escape":    input.Escape,
	"ArrowDown": input.ArrowDown,
}

func (p *rodPage) scoped(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.action)
}

func (p *rodPage) elements(ctx context.Context, loc Locator) (rod.Elements, error) {
	pg := p.page.Context(ctx)
	if loc.Kind == KindXPath {
		return pg.ElementsX(loc.Expr)
	}
	return pg.Elements(loc.Expr)
}

// first resolves loc on a page clone bounded by the action timeout so waits
// inside rod's element helpers cannot block past it.
func (p *rodPage) first(ctx context.Context, loc Locator) (*rod.Element, error) {
	pg := p.scoped(ctx)
	var (
		els rod.Elements
		err error
	)
	if loc.Kind == KindXPath {
		els, err = pg.ElementsX(loc.Expr)
	} else {
		els, err = pg.Elements(loc.Expr)
	}
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, loc)
	}
	return els.First(), nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.load)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	return nil
}

func (p *rodPage) WaitIdle(ctx context.Context) error {
	wait := p.page.Context(ctx).Timeout(p.load).WaitRequestIdle(p.idle, nil, nil, nil)
	wait()
	return ctx.Err()
}

func (p *rodPage) Query(ctx context.Context, loc Locator) ([]ElementInfo, error) {
	els, err := p.elements(ctx, loc)
	if err != nil {
		return nil, err
	}
	infos := make([]ElementInfo, 0, len(els))
	for _, el := range els {
		res, err := el.Eval(thisWrapper(elementInfoJS, false))
		if err != nil {
			return nil, err
		}
		var info ElementInfo
		if err := decodeRod(res, &info); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (p *rodPage) Fill(ctx context.Context, loc Locator, value string) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	return el.Input(value)
}

func (p *rodPage) InputValue(ctx context.Context, loc Locator) (string, error) {
	el, err := p.first(ctx, loc)
	if err != nil {
		return "", err
	}
	v, err := el.Property("value")
	if err != nil {
		return "", err
	}
	if v.Nil() {
		return "", nil
	}
	return v.Str(), nil
}

func (p *rodPage) Click(ctx context.Context, loc Locator) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Press(ctx context.Context, loc Locator, key string) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return err
	}
	return p.page.Context(ctx).Keyboard.Press(k)
}

func (p *rodPage) IsVisible(ctx context.Context, loc Locator) (bool, error) {
	el, err := p.first(ctx, loc)
	if errors.Is(err, ErrNoElement) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return el.Visible()
}

func (p *rodPage) IsChecked(ctx context.Context, loc Locator) (bool, error) {
	el, err := p.first(ctx, loc)
	if err != nil {
		return false, err
	}
	v, err := el.Property("checked")
	if err != nil {
		return false, err
	}
	return v.Bool(), nil
}

func (p *rodPage) Select(ctx context.Context, loc Locator, by SelectBy, value string) error {
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	switch by {
	case SelectByValue:
		return el.Select([]string{fmt.Sprintf(`[value="%s"]`, CSSString(value))}, true, rod.SelectorTypeCSSSector)
	case SelectByLabel:
		return el.Select([]string{value}, true, rod.SelectorTypeText)
	default:
		return fmt.Errorf("unknown select mode %d", by)
	}
}

func (p *rodPage) SelectIndex(ctx context.Context, loc Locator, index int) error {
	res, err := p.EvalOn(ctx, loc, selectIndexJS, index)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(res, &ok); err != nil || !ok {
		return fmt.Errorf("select index %d on %s: not applied", index, loc)
	}
	return nil
}

func (p *rodPage) Options(ctx context.Context, loc Locator) ([]Option, error) {
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

func (p *rodPage) Eval(ctx context.Context, js string, arg interface{}) (json.RawMessage, error) {
	res, err := p.scoped(ctx).Evaluate(rod.Eval(js, arg).ByPromise())
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

func (p *rodPage) EvalOn(ctx context.Context, loc Locator, js string, arg interface{}) (json.RawMessage, error) {
	el, err := p.first(ctx, loc)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(thisWrapper(js, true), arg)
	if err != nil {
		return nil, err
	}
	return res.Value.MarshalJSON()
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.scoped(ctx).HTML()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// thisWrapper adapts an "(el, arg) =>" function to rod's element eval, which
// binds the element to this.
func thisWrapper(js string, withArg bool) string {
	if withArg {
		return "function(arg) { return (" + js + ")(this, arg) }"
	}
	return "function() { return (" + js + ")(this) }"
}

func decodeRod(res *proto.RuntimeRemoteObject, out interface{}) error {
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
