package facts

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/form"
	"github.com/ryanscovill/jp-work-automation/internal/navigation"
)

func newTestLedger(t *testing.T, limit int) *Ledger {
	t.Helper()
	l, err := NewLedger(config.LedgerConfig{Enable: true, FactBufferLimit: limit}, nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return l
}

func TestLedgerDerivesIncompletePages(t *testing.T) {
	l := newTestLedger(t, 100)

	l.FieldDone(form.FieldResult{Page: "general-information", FieldID: "companyName", Selector: `[id="companyName"]`, Outcome: form.OutcomeFilled})
	l.PageDone(form.Report{Page: "general-information", Known: true})

	l.FieldDone(form.FieldResult{Page: "contacts", FieldID: "phone", Outcome: form.OutcomeNotFound})
	l.FieldDone(form.FieldResult{Page: "contacts", FieldID: "email", Outcome: form.OutcomeFilled})
	l.PageDone(form.Report{Page: "contacts", Known: true})

	l.FieldDone(form.FieldResult{Page: "work-details", FieldID: "hours", Outcome: form.OutcomeFailed, Err: errors.New("no matching option")})
	l.PageDone(form.Report{Page: "work-details", Known: true})

	if got, want := l.IncompletePages(), []string{"contacts", "work-details"}; !reflect.DeepEqual(got, want) {
		t.Errorf("IncompletePages = %v, want %v", got, want)
	}
	if got, want := l.CompletePages(), []string{"general-information"}; !reflect.DeepEqual(got, want) {
		t.Errorf("CompletePages = %v, want %v", got, want)
	}
}

func TestLedgerQuery(t *testing.T) {
	l := newTestLedger(t, 100)
	l.FieldDone(form.FieldResult{Page: "contacts", FieldID: "phone", Outcome: form.OutcomeNotFound})
	l.FieldDone(form.FieldResult{Page: "contacts", FieldID: "fax", Outcome: form.OutcomeNotFound})

	rows, err := l.Query(`field_missing("contacts", F).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
	seen := map[interface{}]bool{}
	for _, row := range rows {
		seen[row["F"]] = true
	}
	if !seen["phone"] || !seen["fax"] {
		t.Errorf("unexpected bindings: %v", rows)
	}

	if _, err := l.Query("not a query ((("); err == nil {
		t.Error("expected parse error")
	}
}

func TestLedgerSkipsUnmatchedDetections(t *testing.T) {
	l := newTestLedger(t, 100)
	l.PageDetected(navigation.Detection{Heading: "review"})
	l.PageDetected(navigation.Detection{Heading: "contacts", Page: "contacts", OK: true})
	l.PageDone(form.Report{Page: "nope"})

	got := l.FactsByPredicate(PredPageDetected)
	if len(got) != 1 || got[0].Args[1] != "contacts" {
		t.Errorf("page_detected facts = %v", got)
	}
	if n := len(l.FactsByPredicate(PredPageFilled)); n != 0 {
		t.Errorf("unknown page should not be recorded, got %d", n)
	}
}

func TestLedgerBufferLimit(t *testing.T) {
	l := newTestLedger(t, 3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		l.FieldDone(form.FieldResult{Page: "p", FieldID: id, Outcome: form.OutcomeSkipped})
	}
	buffered := l.Facts()
	if len(buffered) != 3 {
		t.Fatalf("expected 3 buffered facts, got %d", len(buffered))
	}
	if buffered[0].Args[1] != "c" {
		t.Errorf("oldest facts should be trimmed first, got %v", buffered[0].Args)
	}
	if n := len(l.FactsByPredicate(PredFieldSkipped)); n != 3 {
		t.Errorf("index not rebuilt after trim: %d", n)
	}
}

func TestLedgerDisabled(t *testing.T) {
	l, err := NewLedger(config.LedgerConfig{Enable: false}, nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	l.FieldDone(form.FieldResult{Page: "p", FieldID: "x", Outcome: form.OutcomeNotFound})
	if len(l.Facts()) != 0 {
		t.Error("disabled ledger should not buffer facts")
	}
	if l.IncompletePages() != nil {
		t.Error("disabled ledger should derive nothing")
	}
	if _, err := l.Evaluate(PredPageIncomplete); err == nil {
		t.Error("Evaluate should fail when disabled")
	}
}

func TestLedgerExtraSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.mg")
	rule := "Decl page_unfinished(Page).\npage_unfinished(P) :- page_detected(_, P), !page_filled(P).\n"
	if err := os.WriteFile(path, []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := NewLedger(config.LedgerConfig{Enable: true, SchemaPath: path}, nil)
	if err != nil {
		t.Fatalf("NewLedger with extra schema failed: %v", err)
	}
	l.PageDetected(navigation.Detection{Heading: "contacts", Page: "contacts", OK: true})
	facts, err := l.Evaluate("page_unfinished")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(facts) != 1 || facts[0].Args[0] != "contacts" {
		t.Errorf("page_unfinished = %v", facts)
	}

	if _, err := NewLedger(config.LedgerConfig{Enable: true, SchemaPath: filepath.Join(dir, "missing.mg")}, nil); err == nil {
		t.Error("expected error for missing schema file")
	}
}
