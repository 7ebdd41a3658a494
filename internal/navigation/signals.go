package navigation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
)

// Signals is one drained reading of the in-page observer.
type Signals struct {
	// Installed is true when the observer had to be (re)installed, which
	// happens on the first read and after a full document load.
	Installed    bool     `json:"installed"`
	ClickedNext  bool     `json:"clickedNext"`
	RouteChanges []string `json:"routeChanges"`
	ContentSize  int      `json:"contentSize"`
}

// SignalSource yields navigation signals. Each read clears what it returns.
type SignalSource interface {
	Drain(ctx context.Context) (Signals, error)
}

// drainJS installs the observer once per document and drains its state.
// The observer records history API calls, popstate, pathname changes seen by
// a mutation observer, and clicks on any control labelled "Next".
const drainJS = `() => {
	let installed = false;
	if (!window.__nopfill) {
		installed = true;
		const state = { routes: [], clickedNext: false, prev: location.pathname };
		window.__nopfill = state;
		const push = () => state.routes.push(location.pathname);
		new MutationObserver(() => {
			if (location.pathname !== state.prev) {
				state.prev = location.pathname;
				push();
			}
		}).observe(document.body, { childList: true, subtree: true });
		for (const method of ['pushState', 'replaceState']) {
			const original = history[method];
			history[method] = function () {
				const result = original.apply(this, arguments);
				push();
				return result;
			};
		}
		window.addEventListener('popstate', push);
		document.addEventListener('click', (event) => {
			const target = event.target && event.target.closest
				? event.target.closest('button, input[type=submit], input[type=button], a, .btn')
				: null;
			if (!target) return;
			const label = (target.innerText || target.value || '').trim().toLowerCase();
			if (label === 'next' || label.startsWith('next ')) state.clickedNext = true;
		}, true);
	}
	const s = window.__nopfill;
	const out = {
		installed: installed,
		clickedNext: s.clickedNext,
		routeChanges: s.routes.splice(0),
		contentSize: document.body ? document.body.innerHTML.length : 0,
	};
	s.clickedNext = false;
	return out;
}`

// PageSignals reads signals from the observer injected into a page.
type PageSignals struct {
	page browser.Page
}

func NewPageSignals(page browser.Page) *PageSignals {
	return &PageSignals{page: page}
}

func (s *PageSignals) Drain(ctx context.Context) (Signals, error) {
	raw, err := s.page.Eval(ctx, drainJS, nil)
	if err != nil {
		return Signals{}, err
	}
	var sig Signals
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Signals{}, fmt.Errorf("decode signals: %w", err)
	}
	return sig, nil
}
