package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
	"github.com/ryanscovill/jp-work-automation/internal/transform"
)

// Outcome classifies what happened to one field.
type Outcome string

const (
	OutcomeFilled   Outcome = "filled"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// FieldResult is the per-field record of a page fill.
type FieldResult struct {
	Page     string
	FieldID  string
	DataKey  string
	Type     mapping.FieldType
	Value    string
	Selector string
	Outcome  Outcome
	Err      error
}

// Report summarizes one FillPage call by field id.
type Report struct {
	Page     string
	Known    bool
	Filled   []string
	NotFound []string
	Failed   []string
	Skipped  []string
	Results  []FieldResult
}

func (r *Report) add(res FieldResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeFilled:
		r.Filled = append(r.Filled, res.FieldID)
	case OutcomeNotFound:
		r.NotFound = append(r.NotFound, res.FieldID)
	case OutcomeFailed:
		r.Failed = append(r.Failed, res.FieldID)
	case OutcomeSkipped:
		r.Skipped = append(r.Skipped, res.FieldID)
	}
}

// Observer receives fill outcomes as they happen.
type Observer interface {
	FieldDone(FieldResult)
	PageDone(Report)
}

// Options configures a Filler.
type Options struct {
	Timeouts  config.TimeoutConfig
	Logger    *zap.Logger
	Observers []Observer
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Filler fills mapped pages from one data record.
type Filler struct {
	page      browser.Page
	mapping   mapping.Mapping
	record    mapping.Record
	resolver  *Resolver
	env       Env
	logger    *zap.Logger
	observers []Observer
}

func NewFiller(page browser.Page, m mapping.Mapping, record mapping.Record, opts Options) *Filler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("filler")
	return &Filler{
		page:     page,
		mapping:  m,
		record:   record,
		resolver: NewResolver(page, logger),
		env: Env{
			Page:     page,
			Timeouts: opts.Timeouts,
			Logger:   logger,
			Sleep:    opts.Sleep,
		},
		logger:    logger,
		observers: opts.Observers,
	}
}

// Value returns the transformed value for a field, or "" when the field
// would be skipped.
func (f *Filler) Value(field mapping.Field) string {
	return ResolveValue(field, f.record, f.mapping.Transformations)
}

// ResolveValue looks up a field's data key and applies its transform.
func ResolveValue(field mapping.Field, record mapping.Record, rules transform.Rules) string {
	raw := record.Get(field.DataKey)
	if raw == "" && !rules.Has(field.DataKey) {
		return ""
	}
	return transform.Apply(field.DataKey, raw, record, rules)
}

// FillPage fills every mapped field of the named page in document order.
// Per-field problems are recorded in the report and never stop the page; the
// returned error is non-nil only when the browser is gone or ctx is done.
func (f *Filler) FillPage(ctx context.Context, name string) (Report, error) {
	report := Report{Page: name}
	page, ok := f.mapping.Page(name)
	if !ok {
		f.logger.Warn("no mapping for page", zap.String("page", name))
		return report, nil
	}
	report.Known = true

	if err := f.page.WaitIdle(ctx); err != nil {
		if browser.IsClosedError(err) {
			return report, err
		}
		f.logger.Warn("network did not settle", zap.String("page", name), zap.Error(err))
	}

	f.logger.Info("filling page", zap.String("page", name), zap.Int("fields", len(page.Fields)))
	for _, field := range page.Fields {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := f.fillField(ctx, name, field)
		report.add(res)
		f.notifyField(res)
		if res.Err != nil && browser.IsClosedError(res.Err) {
			return report, res.Err
		}
		if res.Outcome == OutcomeSkipped {
			continue
		}
		if err := f.env.sleep(ctx, f.env.Timeouts.FieldInteraction()); err != nil {
			return report, err
		}
	}

	f.logger.Info("page filled",
		zap.String("page", name),
		zap.Int("filled", len(report.Filled)),
		zap.Int("not_found", len(report.NotFound)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", len(report.Skipped)),
	)
	for _, o := range f.observers {
		o.PageDone(report)
	}
	return report, nil
}

func (f *Filler) fillField(ctx context.Context, pageName string, field mapping.Field) FieldResult {
	res := FieldResult{Page: pageName, FieldID: field.ID, DataKey: field.DataKey, Type: field.Type}
	logger := f.logger.With(zap.String("page", pageName), zap.String("field", field.ID), zap.String("data_key", field.DataKey))

	res.Value = f.Value(field)
	if res.Value == "" {
		res.Outcome = OutcomeSkipped
		logger.Debug("no value, skipping field")
		return res
	}

	resolved, err := f.resolver.Resolve(ctx, field)
	if err != nil {
		res.Err = err
		if errors.Is(err, ErrFieldNotFound) {
			res.Outcome = OutcomeNotFound
			logger.Warn("field not found on page")
		} else {
			res.Outcome = OutcomeFailed
			logger.Error("resolving field failed", zap.Error(err))
		}
		return res
	}
	res.Selector = resolved.Locator.String()

	handler, err := HandlerFor(field.Type, f.env)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		logger.Error("no handler", zap.Error(err))
		return res
	}
	if err := handler.Apply(ctx, resolved, res.Value); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("fill %s: %w", field.ID, err)
		logger.Error("filling field failed", zap.String("selector", res.Selector), zap.Error(err))
		return res
	}
	res.Outcome = OutcomeFilled
	logger.Debug("field filled", zap.String("selector", res.Selector), zap.String("type", field.Type.String()))
	return res
}

func (f *Filler) notifyField(res FieldResult) {
	for _, o := range f.observers {
		o.FieldDone(res)
	}
}
