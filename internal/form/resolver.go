// Package form fills one logical page of the hosted form: it resolves each
// mapped field to an on-page control and dispatches to a per-type handler.
package form

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
)

// ErrFieldNotFound is returned when no selector candidate matches a field.
var ErrFieldNotFound = errors.New("field not found")

// Candidates lists the selectors tried for a field id, in priority order.
func Candidates(fieldID string, ft mapping.FieldType) []browser.Locator {
	q := browser.CSSString(fieldID)
	label := browser.XPathLiteral(fieldID)
	locs := []browser.Locator{
		browser.ByID(fieldID),
		browser.CSS(fmt.Sprintf(`[name="%s"]`, q)),
		browser.CSS(fmt.Sprintf(`[ng-model="%s"]`, q)),
		browser.CSS(fmt.Sprintf(`[formcontrolname="%s"]`, q)),
		browser.CSS(fmt.Sprintf(`[id*="%s"]`, q)),
		browser.XPath(fmt.Sprintf(`//label[contains(normalize-space(.), %s)]/following-sibling::input`, label)),
		browser.CSS(fmt.Sprintf(`[placeholder="%s"]`, q)),
	}
	if ft == mapping.FieldSelect {
		locs = append(locs, browser.XPath(fmt.Sprintf(`//label[contains(normalize-space(.), %s)]/following-sibling::select`, label)))
	}
	return locs
}

// Resolution is the winning candidate and the elements it matched.
type Resolution struct {
	Locator  browser.Locator
	Elements []browser.ElementInfo
}

// First returns the first matched element.
func (r Resolution) First() browser.ElementInfo {
	if len(r.Elements) == 0 {
		return browser.ElementInfo{}
	}
	return r.Elements[0]
}

// Resolver maps field ids to on-page controls.
type Resolver struct {
	page   browser.Page
	logger *zap.Logger
}

func NewResolver(page browser.Page, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{page: page, logger: logger}
}

// Resolve returns the first candidate with a viable match. Text-like controls
// need a visible match; radios and checkboxes are accepted hidden because the
// hosted app draws custom spans over the native inputs.
func (r *Resolver) Resolve(ctx context.Context, field mapping.Field) (Resolution, error) {
	for _, loc := range Candidates(field.ID, field.Type) {
		infos, err := r.page.Query(ctx, loc)
		if err != nil {
			if browser.IsClosedError(err) {
				return Resolution{}, err
			}
			r.logger.Debug("selector query failed", zap.String("selector", loc.String()), zap.Error(err))
			continue
		}
		n := browser.Visible(infos)
		if field.Type.IsToggle() {
			n = len(infos)
		}
		if n > 0 {
			return Resolution{Locator: loc, Elements: infos}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s", ErrFieldNotFound, field.ID)
}
