// Package facts keeps a Mangle-backed ledger of fill outcomes and derives
// which pages still need operator attention.
package facts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
)

//go:embed schema.mg
var baseSchema string

// Predicates asserted by the ledger.
const (
	PredFieldFilled    = "field_filled"
	PredFieldMissing   = "field_missing"
	PredFieldFailed    = "field_failed"
	PredFieldSkipped   = "field_skipped"
	PredPageFilled     = "page_filled"
	PredPageDetected   = "page_detected"
	PredPageIncomplete = "page_incomplete"
	PredPageComplete   = "page_complete"
)

// Fact is one ledger entry.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Ledger records fill outcomes as Mangle facts. It is safe for concurrent use.
type Ledger struct {
	cfg    config.LedgerConfig
	logger *zap.Logger

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
}

// NewLedger loads the embedded schema plus the optional schema file.
func NewLedger(cfg config.LedgerConfig, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		cfg:    cfg,
		logger: logger.Named("ledger"),
		store:  factstore.NewSimpleInMemoryStore(),
		facts:  make([]Fact, 0, 64),
		index:  make(map[string][]int),
	}
	if !cfg.Enable {
		return l, nil
	}

	src := baseSchema
	if cfg.SchemaPath != "" {
		extra, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		src += "\n" + string(extra)
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze schema: %w", err)
	}
	l.programInfo = info
	return l, nil
}

// Enabled reports whether facts are being recorded.
func (l *Ledger) Enabled() bool {
	return l != nil && l.cfg.Enable
}

// Add appends facts to the buffer and the store, then re-evaluates the rules.
func (l *Ledger) Add(facts ...Fact) error {
	if !l.Enabled() || len(facts) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for i := range facts {
		if facts[i].Timestamp.IsZero() {
			facts[i].Timestamp = now
		}
	}

	base := len(l.facts)
	l.facts = append(l.facts, facts...)
	if limit := l.cfg.FactBufferLimit; limit > 0 && len(l.facts) > limit {
		l.facts = l.facts[len(l.facts)-limit:]
		l.rebuildIndex()
	} else {
		for i, f := range facts {
			l.index[f.Predicate] = append(l.index[f.Predicate], base+i)
		}
	}

	for _, f := range facts {
		l.store.Add(toAtom(f))
	}
	if err := engine.EvalProgram(l.programInfo, l.store); err != nil {
		return fmt.Errorf("eval program after fact insertion: %w", err)
	}
	return nil
}

// Evaluate returns every fact, stored or derived, for predicate.
func (l *Ledger) Evaluate(predicate string) ([]Fact, error) {
	if !l.Enabled() {
		return nil, fmt.Errorf("ledger disabled")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	arity := -1
	for sym := range l.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}
	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	out := make([]Fact, 0)
	err := l.store.GetFacts(query, func(atom ast.Atom) error {
		out = append(out, fromAtom(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// Query evaluates a single atom such as `field_missing(P, F).` and binds its
// variables. Constant arguments filter the results.
func (l *Ledger) Query(q string) ([]QueryResult, error) {
	if !l.Enabled() {
		return nil, fmt.Errorf("ledger disabled")
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(q)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	atom := unit.Clauses[0].Head

	l.mu.RLock()
	defer l.mu.RUnlock()
	results := make([]QueryResult, 0)
	err = l.store.GetFacts(atom, func(found ast.Atom) error {
		row := make(QueryResult)
		for i, arg := range atom.Args {
			if i >= len(found.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				row[v.Symbol] = fromTerm(found.Args[i])
			}
		}
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// FactsByPredicate returns buffered facts for predicate in insertion order.
func (l *Ledger) FactsByPredicate(predicate string) []Fact {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Fact, 0, len(l.index[predicate]))
	for _, idx := range l.index[predicate] {
		if idx >= 0 && idx < len(l.facts) {
			out = append(out, l.facts[idx])
		}
	}
	return out
}

// Facts returns a copy of the buffered facts.
func (l *Ledger) Facts() []Fact {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Fact(nil), l.facts...)
}

// IncompletePages lists pages with missing or failed fields, sorted.
func (l *Ledger) IncompletePages() []string {
	return l.pages(PredPageIncomplete)
}

// CompletePages lists filled pages with no missing or failed fields, sorted.
func (l *Ledger) CompletePages() []string {
	return l.pages(PredPageComplete)
}

func (l *Ledger) pages(predicate string) []string {
	if !l.Enabled() {
		return nil
	}
	facts, err := l.Evaluate(predicate)
	if err != nil {
		l.logger.Warn("evaluate failed", zap.String("predicate", predicate), zap.Error(err))
		return nil
	}
	names := make([]string, 0, len(facts))
	for _, f := range facts {
		if len(f.Args) > 0 {
			names = append(names, fmt.Sprint(f.Args[0]))
		}
	}
	sort.Strings(names)
	return names
}

func (l *Ledger) rebuildIndex() {
	l.index = make(map[string][]int)
	for i, f := range l.facts {
		l.index[f.Predicate] = append(l.index[f.Predicate], i)
	}
}

func toAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func fromAtom(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = fromTerm(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func fromTerm(t ast.BaseTerm) interface{} {
	switch term := t.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			if n, err := term.NumberValue(); err == nil {
				return n
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", t)
	}
}
