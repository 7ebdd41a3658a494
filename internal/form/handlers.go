package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
)

// ErrNoMatch is returned when a handler exhausts every strategy for a value.
var ErrNoMatch = errors.New("no matching option")

// Handler applies one value to a resolved control. Applying the same value
// twice leaves the control in the same state.
type Handler interface {
	Apply(ctx context.Context, res Resolution, value string) error
}

// Env is what every handler needs from the session.
type Env struct {
	Page     browser.Page
	Timeouts config.TimeoutConfig
	Logger   *zap.Logger
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (e Env) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func (e Env) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
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

// HandlerFor returns the handler for a field type.
func HandlerFor(t mapping.FieldType, env Env) (Handler, error) {
	switch t {
	case mapping.FieldText, mapping.FieldNumber, mapping.FieldEmail, mapping.FieldTextarea:
		return textHandler{env}, nil
	case mapping.FieldDate, mapping.FieldTime:
		return dateHandler{env}, nil
	case mapping.FieldSelect:
		return selectHandler{env}, nil
	case mapping.FieldRadio:
		return radioHandler{env}, nil
	case mapping.FieldCheckbox:
		return checkboxHandler{env}, nil
	case mapping.FieldAddress:
		return addressHandler{env}, nil
	}
	return nil, fmt.Errorf("no handler for field type %v", t)
}

type textHandler struct{ env Env }

func (h textHandler) Apply(ctx context.Context, res Resolution, value string) error {
	return h.env.Page.Fill(ctx, res.Locator, value)
}

const forceValueJS = `(el, v) => {
	el.value = v;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return el.value;
}`

// dateHandler fills date and time inputs. Native pickers reject some
// formats silently, so the value is read back and forced through the DOM
// when it did not stick.
type dateHandler struct{ env Env }

func (h dateHandler) Apply(ctx context.Context, res Resolution, value string) error {
	page := h.env.Page
	fillErr := page.Fill(ctx, res.Locator, value)
	if fillErr != nil && browser.IsClosedError(fillErr) {
		return fillErr
	}
	if fillErr == nil {
		if got, err := page.InputValue(ctx, res.Locator); err == nil && got == value {
			return nil
		}
	}
	h.env.log().Debug("forcing date value through DOM",
		zap.String("selector", res.Locator.String()), zap.NamedError("fill_error", fillErr))
	if _, err := page.EvalOn(ctx, res.Locator, forceValueJS, value); err != nil {
		if fillErr != nil {
			return fmt.Errorf("%v (force: %w)", fillErr, err)
		}
		return err
	}
	return nil
}

const selectContainingJS = `(el, v) => {
	const opts = Array.from(el.options || []);
	for (let i = 0; i < opts.length; i++) {
		if ((opts[i].text || '').includes(v)) {
			el.selectedIndex = i;
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
}`

type selectHandler struct{ env Env }

func (h selectHandler) Apply(ctx context.Context, res Resolution, value string) error {
	page := h.env.Page
	loc := res.Locator
	if tag := res.First().Tag; tag != "" && tag != "select" {
		return page.Fill(ctx, loc, value)
	}

	if err := page.Select(ctx, loc, browser.SelectByValue, value); err == nil {
		return nil
	} else if browser.IsClosedError(err) {
		return err
	}
	if err := page.Select(ctx, loc, browser.SelectByLabel, value); err == nil {
		return nil
	} else if browser.IsClosedError(err) {
		return err
	}

	opts, err := page.Options(ctx, loc)
	if err != nil && browser.IsClosedError(err) {
		return err
	}
	if i := matchOption(opts, value); i >= 0 {
		if err := page.SelectIndex(ctx, loc, i); err == nil {
			return nil
		} else if browser.IsClosedError(err) {
			return err
		}
	}

	raw, err := page.EvalOn(ctx, loc, selectContainingJS, value)
	if err != nil {
		return fmt.Errorf("select %q: %w", value, err)
	}
	var picked bool
	if json.Unmarshal(raw, &picked) == nil && picked {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNoMatch, value)
}

// matchOption returns the index of the first option matching value, checking
// each option in turn against: exact text, exact value, whitespace-insensitive
// text substring, then the "N: label" encoding used by Angular selects.
func matchOption(opts []browser.Option, value string) int {
	want := strings.TrimSpace(value)
	compact := strings.ReplaceAll(want, " ", "")
	stripped := strings.TrimLeft(want, "0")
	for i, o := range opts {
		if o.Text == value || o.Value == value {
			return i
		}
		if compact != "" && strings.Contains(strings.ReplaceAll(o.Text, " ", ""), compact) {
			return i
		}
		if !strings.Contains(o.Value, ":") {
			continue
		}
		if want != "" && strings.Contains(o.Value, want) {
			return i
		}
		if stripped != "" && strings.Contains(o.Value, stripped) {
			return i
		}
	}
	return -1
}

type radioHandler struct{ env Env }

var radioAliases = map[string]string{"yes": "true", "no": "false"}

func (h radioHandler) Apply(ctx context.Context, res Resolution, value string) error {
	page := h.env.Page
	logger := h.env.log()

	// Values such as "rdAsbestos" name the radio directly.
	if strings.HasPrefix(value, "rd") {
		direct := browser.ByID(value)
		if infos, err := page.Query(ctx, direct); err == nil && len(infos) > 0 {
			return h.clickRadio(ctx, infos[0], direct)
		} else if err != nil && browser.IsClosedError(err) {
			return err
		}
	}

	group := radios(res.Elements)
	if len(group) == 0 {
		return page.Click(ctx, res.Locator)
	}
	if i := matchRadio(group, value); i >= 0 {
		return h.clickRadio(ctx, group[i], radioLocator(group[i], res.Locator))
	}

	logger.Info("no radio matches value, clicking first in group",
		zap.String("selector", res.Locator.String()), zap.String("value", value))
	return page.Click(ctx, radioLocator(group[0], res.Locator))
}

// clickRadio prefers the styled checkmark span, then the input, then its label.
func (h radioHandler) clickRadio(ctx context.Context, radio browser.ElementInfo, input browser.Locator) error {
	page := h.env.Page
	if radio.ID == "" {
		return page.Click(ctx, input)
	}
	forID := browser.CSSString(radio.ID)
	span := browser.CSS(fmt.Sprintf(`label[for="%s"] span.checkmark`, forID))

	var clickErr error
	if visible, err := page.IsVisible(ctx, span); err == nil && visible {
		clickErr = page.Click(ctx, span)
	} else {
		clickErr = page.Click(ctx, input)
	}
	if clickErr == nil || browser.IsClosedError(clickErr) {
		return clickErr
	}

	h.env.log().Debug("radio click failed, trying label", zap.String("id", radio.ID), zap.Error(clickErr))
	label := browser.CSS(fmt.Sprintf(`label[for="%s"]`, forID))
	if visible, err := page.IsVisible(ctx, label); err == nil && visible {
		return page.Click(ctx, label)
	}
	return clickErr
}

func radios(infos []browser.ElementInfo) []browser.ElementInfo {
	out := make([]browser.ElementInfo, 0, len(infos))
	for _, info := range infos {
		if info.Type == "radio" {
			out = append(out, info)
		}
	}
	if len(out) == 0 {
		return infos
	}
	return out
}

func matchRadio(group []browser.ElementInfo, value string) int {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return -1
	}
	compact := strings.ReplaceAll(want, " ", "")
	alias := radioAliases[want]
	for i, r := range group {
		id := strings.ToLower(r.ID)
		v := strings.ToLower(r.Value)
		switch {
		case id != "" && strings.Contains(id, want):
			return i
		case v == want, strings.ReplaceAll(v, " ", "") == compact:
			return i
		case alias != "" && v == alias:
			return i
		}
	}
	return -1
}

func radioLocator(r browser.ElementInfo, fallback browser.Locator) browser.Locator {
	switch {
	case r.ID != "":
		return browser.ByID(r.ID)
	case r.Name != "" && r.Value != "":
		return browser.CSS(fmt.Sprintf(`input[type="radio"][name="%s"][value="%s"]`,
			browser.CSSString(r.Name), browser.CSSString(r.Value)))
	default:
		return fallback
	}
}

type checkboxHandler struct{ env Env }

// wantChecked reports whether a checkbox value means checked.
func wantChecked(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}

func (h checkboxHandler) Apply(ctx context.Context, res Resolution, value string) error {
	page := h.env.Page
	want := wantChecked(value)

	checked, err := page.IsChecked(ctx, res.Locator)
	if err == nil {
		if checked == want {
			return nil
		}
		if err = page.Click(ctx, res.Locator); err == nil {
			return nil
		}
	}
	if browser.IsClosedError(err) {
		return err
	}
	h.env.log().Debug("direct checkbox click failed", zap.String("selector", res.Locator.String()), zap.Error(err))

	id := res.First().ID
	if id == "" {
		return fmt.Errorf("set checkbox to %v: %w", want, err)
	}
	checked, cerr := page.IsChecked(ctx, browser.ByID(id))
	if cerr != nil {
		return fmt.Errorf("set checkbox to %v: %w", want, cerr)
	}
	if checked == want {
		return nil
	}

	forID := browser.CSSString(id)
	for _, target := range []browser.Locator{
		browser.CSS(fmt.Sprintf(`label[for="%s"] span.checkmark-checkbox`, forID)),
		browser.CSS(fmt.Sprintf(`label[for="%s"]`, forID)),
	} {
		if visible, verr := page.IsVisible(ctx, target); verr == nil && visible {
			return page.Click(ctx, target)
		}
	}
	return fmt.Errorf("set checkbox %s to %v: %w", id, want, err)
}

// suggestionSelectors cover Google Places and reach-combobox autocompletes.
var suggestionSelectors = []browser.Locator{
	browser.CSS(".pac-container .pac-item:first-child"),
	browser.CSS(".pac-container div:first-child"),
	browser.CSS("ul.pac-container li:first-child"),
	browser.CSS("[data-reach-combobox-popover] [data-reach-combobox-option]:first-child"),
}

type addressHandler struct{ env Env }

func (h addressHandler) Apply(ctx context.Context, res Resolution, value string) error {
	page := h.env.Page
	if err := page.Fill(ctx, res.Locator, value); err != nil {
		return err
	}
	if err := h.env.sleep(ctx, h.env.Timeouts.AddressSettleWait()); err != nil {
		return err
	}
	for _, sel := range suggestionSelectors {
		visible, err := page.IsVisible(ctx, sel)
		if err != nil {
			if browser.IsClosedError(err) {
				return err
			}
			continue
		}
		if visible {
			h.env.log().Debug("picked address suggestion", zap.String("selector", sel.String()))
			return page.Click(ctx, sel)
		}
	}
	return page.Press(ctx, res.Locator, "Enter")
}
