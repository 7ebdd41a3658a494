// Package browser defines the capability set the form filler needs from a
// browser automation driver, with rod and playwright implementations.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoElement is returned when an element operation finds nothing to act on.
var ErrNoElement = errors.New("no element matches locator")

// LocatorKind distinguishes CSS selectors from XPath expressions.
type LocatorKind int

const (
	KindCSS LocatorKind = iota
	KindXPath
)

// Locator identifies a set of elements on the page.
type Locator struct {
	Kind LocatorKind
	Expr string
}

// CSS builds a CSS locator.
func CSS(expr string) Locator { return Locator{Kind: KindCSS, Expr: expr} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Kind: KindXPath, Expr: expr} }

func (l Locator) String() string {
	if l.Kind == KindXPath {
		return "xpath=" + l.Expr
	}
	return l.Expr
}

// ByID locates an element by exact id. The attribute form tolerates ids that
// are not valid CSS identifiers.
func ByID(id string) Locator {
	return CSS(fmt.Sprintf(`[id="%s"]`, CSSString(id)))
}

// CSSString escapes s for use inside a double-quoted CSS attribute value.
func CSSString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// XPathLiteral quotes s as an XPath string literal.
func XPathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// ElementInfo is a snapshot of the attributes the handlers inspect.
type ElementInfo struct {
	Tag     string `json:"tag"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
	Checked bool   `json:"checked"`
}

// Option is one <option> of a select element.
type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// SelectBy chooses how Select matches an option.
type SelectBy int

const (
	// SelectByValue matches the option's value attribute exactly.
	SelectByValue SelectBy = iota
	// SelectByLabel uses the driver's own visible-label matching.
	SelectByLabel
)

// Page is the browser capability set used by the filler, the detector and the
// navigation monitor. Element operations act on the first element matching
// the locator and return ErrNoElement when there is none.
//
// A Page is driven by a single goroutine; implementations are not safe for
// concurrent use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitIdle blocks until the page's network activity settles.
	WaitIdle(ctx context.Context) error

	// Query returns every element matching loc, visible or not.
	Query(ctx context.Context, loc Locator) ([]ElementInfo, error)
	Fill(ctx context.Context, loc Locator, value string) error
	InputValue(ctx context.Context, loc Locator) (string, error)
	Click(ctx context.Context, loc Locator) error
	Press(ctx context.Context, loc Locator, key string) error
	IsVisible(ctx context.Context, loc Locator) (bool, error)
	IsChecked(ctx context.Context, loc Locator) (bool, error)

	Select(ctx context.Context, loc Locator, by SelectBy, value string) error
	SelectIndex(ctx context.Context, loc Locator, index int) error
	Options(ctx context.Context, loc Locator) ([]Option, error)

	// Eval runs a JavaScript function expression taking one argument.
	Eval(ctx context.Context, js string, arg interface{}) (json.RawMessage, error)
	// EvalOn runs a function expression "(el, arg) => ..." against the first match.
	EvalOn(ctx context.Context, loc Locator, js string, arg interface{}) (json.RawMessage, error)
	// HTML returns the serialized current document.
	HTML(ctx context.Context) (string, error)

	Close() error
}

// Driver owns the browser process behind a Page.
type Driver interface {
	// Open launches or attaches to the browser and opens the working page.
	Open(ctx context.Context) (Page, error)
	// Close releases the page, the browser context and the browser.
	Close() error
}

// Visible counts the visible entries of a Query result.
func Visible(infos []ElementInfo) int {
	n := 0
	for _, info := range infos {
		if info.Visible {
			n++
		}
	}
	return n
}
