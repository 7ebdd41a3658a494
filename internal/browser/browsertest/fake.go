// Package browsertest provides an in-memory browser.Page for engine tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
)

// ErrClosed mimics the error a driver returns after the user closes the window.
var ErrClosed = errors.New("target page, context or browser has been closed")

// Element is a fake DOM node registered under one or more locators.
type Element struct {
	Tag     string
	ID      string
	Name    string
	Type    string
	Value   string
	Hidden  bool
	Checked bool

	Options  []browser.Option
	Selected int

	// ClickErr and FillErr make the corresponding action fail.
	ClickErr error
	FillErr  error
	// IgnoreFill makes Fill succeed without changing Value, like a date input
	// rejecting a badly formatted string.
	IgnoreFill bool
	// OnClick runs after a successful click.
	OnClick func(p *FakePage)
}

func (e *Element) info() browser.ElementInfo {
	tag := e.Tag
	if tag == "" {
		tag = "input"
	}
	return browser.ElementInfo{
		Tag:     tag,
		ID:      e.ID,
		Name:    e.Name,
		Value:   e.Value,
		Type:    e.Type,
		Visible: !e.Hidden,
		Checked: e.Checked,
	}
}

// Action is one recorded interaction.
type Action struct {
	Op      string
	Locator string
	Value   string
}

func (a Action) String() string {
	if a.Value == "" {
		return a.Op + " " + a.Locator
	}
	return a.Op + " " + a.Locator + " = " + a.Value
}

// FakePage implements browser.Page over a map of locator strings to elements.
type FakePage struct {
	mu       sync.Mutex
	elements map[string][]*Element
	actions  []Action
	queries  []string
	closed   bool

	URL      string
	Document string

	// EvalFunc answers Eval; nil returns JSON null.
	EvalFunc func(js string, arg interface{}) (json.RawMessage, error)
	// EvalOnFunc answers EvalOn; nil returns JSON null.
	EvalOnFunc func(el *Element, js string, arg interface{}) (json.RawMessage, error)
}

var _ browser.Page = (*FakePage)(nil)

// New returns an empty page.
func New() *FakePage {
	return &FakePage{elements: make(map[string][]*Element)}
}

// Add registers elements under loc. Repeated calls append.
func (p *FakePage) Add(loc browser.Locator, els ...*Element) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := loc.String()
	p.elements[key] = append(p.elements[key], els...)
	return p
}

// Remove drops every element registered under loc.
func (p *FakePage) Remove(loc browser.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, loc.String())
}

// SetDocument replaces the HTML returned by HTML.
func (p *FakePage) SetDocument(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Document = html
}

// CloseWindow simulates the user closing the browser.
func (p *FakePage) CloseWindow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Actions returns a copy of the recorded interactions.
func (p *FakePage) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// Queries returns the locators passed to Query, in call order.
func (p *FakePage) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

// Count returns how many recorded actions have op and locator.
func (p *FakePage) Count(op string, loc browser.Locator) int {
	n := 0
	for _, a := range p.Actions() {
		if a.Op == op && a.Locator == loc.String() {
			n++
		}
	}
	return n
}

func (p *FakePage) record(op string, loc browser.Locator, value string) {
	p.actions = append(p.actions, Action{Op: op, Locator: loc.String(), Value: value})
}

func (p *FakePage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *FakePage) first(ctx context.Context, loc browser.Locator) (*Element, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	els := p.elements[loc.String()]
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNoElement, loc)
	}
	return els[0], nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.URL = url
	p.actions = append(p.actions, Action{Op: "navigate", Value: url})
	return nil
}

func (p *FakePage) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.check(ctx)
}

func (p *FakePage) Query(ctx context.Context, loc browser.Locator) ([]browser.ElementInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.queries = append(p.queries, loc.String())
	els := p.elements[loc.String()]
	infos := make([]browser.ElementInfo, 0, len(els))
	for _, el := range els {
		infos = append(infos, el.info())
	}
	return infos, nil
}

func (p *FakePage) Fill(ctx context.Context, loc browser.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	if el.FillErr != nil {
		return el.FillErr
	}
	p.record("fill", loc, value)
	if !el.IgnoreFill {
		el.Value = value
	}
	return nil
}

func (p *FakePage) InputValue(ctx context.Context, loc browser.Locator) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if err != nil {
		return "", err
	}
	if el.Tag == "select" {
		if el.Selected >= 0 && el.Selected < len(el.Options) {
			return el.Options[el.Selected].Value, nil
		}
		return "", nil
	}
	return el.Value, nil
}

func (p *FakePage) Click(ctx context.Context, loc browser.Locator) error {
	p.mu.Lock()
	el, err := p.first(ctx, loc)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if el.ClickErr != nil {
		p.mu.Unlock()
		return el.ClickErr
	}
	p.record("click", loc, "")
	switch strings.ToLower(el.Type) {
	case "checkbox":
		el.Checked = !el.Checked
	case "radio":
		el.Checked = true
	}
	hook := el.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *FakePage) Press(ctx context.Context, loc browser.Locator, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.first(ctx, loc); err != nil {
		return err
	}
	p.record("press", loc, key)
	return nil
}

func (p *FakePage) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if errors.Is(err, browser.ErrNoElement) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !el.Hidden, nil
}

func (p *FakePage) IsChecked(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if err != nil {
		return false, err
	}
	return el.Checked, nil
}

func (p *FakePage) Select(ctx context.Context, loc browser.Locator, by browser.SelectBy, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	for i, opt := range el.Options {
		if (by == browser.SelectByValue && opt.Value == value) || (by == browser.SelectByLabel && opt.Text == value) {
			el.Selected = i
			p.record("select", loc, opt.Value)
			return nil
		}
	}
	return fmt.Errorf("no option %q in %s", value, loc)
}

func (p *FakePage) SelectIndex(ctx context.Context, loc browser.Locator, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(el.Options) {
		return fmt.Errorf("option index %d out of range", index)
	}
	el.Selected = index
	p.record("select", loc, el.Options[index].Value)
	return nil
}

func (p *FakePage) Options(ctx context.Context, loc browser.Locator) ([]browser.Option, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.first(ctx, loc)
	if err != nil {
		return nil, err
	}
	return append([]browser.Option(nil), el.Options...), nil
}

func (p *FakePage) Eval(ctx context.Context, js string, arg interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	fn := p.EvalFunc
	p.mu.Unlock()
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(js, arg)
}

func (p *FakePage) EvalOn(ctx context.Context, loc browser.Locator, js string, arg interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	el, err := p.first(ctx, loc)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.record("eval", loc, fmt.Sprint(arg))
	fn := p.EvalOnFunc
	p.mu.Unlock()
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(el, js, arg)
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.Document, nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Driver hands out a prepared FakePage.
type Driver struct {
	Page    *FakePage
	OpenErr error
	Closed  bool
}

func (d *Driver) Open(ctx context.Context) (browser.Page, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	return d.Page, nil
}

func (d *Driver) Close() error {
	d.Closed = true
	return nil
}
