package facts

import (
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/form"
	"github.com/ryanscovill/jp-work-automation/internal/navigation"
)

// FieldDone records a field outcome.
func (l *Ledger) FieldDone(r form.FieldResult) {
	var f Fact
	switch r.Outcome {
	case form.OutcomeFilled:
		f = Fact{Predicate: PredFieldFilled, Args: []interface{}{r.Page, r.FieldID, r.Selector}}
	case form.OutcomeNotFound:
		f = Fact{Predicate: PredFieldMissing, Args: []interface{}{r.Page, r.FieldID}}
	case form.OutcomeFailed:
		reason := ""
		if r.Err != nil {
			reason = r.Err.Error()
		}
		f = Fact{Predicate: PredFieldFailed, Args: []interface{}{r.Page, r.FieldID, reason}}
	case form.OutcomeSkipped:
		f = Fact{Predicate: PredFieldSkipped, Args: []interface{}{r.Page, r.FieldID}}
	default:
		return
	}
	l.add(f)
}

// PageDone records that a known page went through a fill pass.
func (l *Ledger) PageDone(r form.Report) {
	if !r.Known {
		return
	}
	l.add(Fact{Predicate: PredPageFilled, Args: []interface{}{r.Page}})
}

// PageDetected records a heading match made by the navigation monitor.
func (l *Ledger) PageDetected(d navigation.Detection) {
	if !d.OK {
		return
	}
	l.add(Fact{Predicate: PredPageDetected, Args: []interface{}{d.Heading, d.Page}})
}

func (l *Ledger) add(f Fact) {
	if err := l.Add(f); err != nil {
		l.logger.Warn("recording fact failed", zap.String("predicate", f.Predicate), zap.Error(err))
	}
}

var _ form.Observer = (*Ledger)(nil)
