package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ryanscovill/jp-work-automation/internal/form"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
	"github.com/ryanscovill/jp-work-automation/internal/navigation"
)

func TestRecorderRotation(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxRotatedFiles+2; i++ {
		if err := r.Start("test"); err != nil {
			t.Fatal(err)
		}
		r.Log("note", map[string]string{"msg": "hello"})
		time.Sleep(10 * time.Millisecond)
	}
	r.Close()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxRotatedFiles {
		t.Errorf("expected %d files, got %d", MaxRotatedFiles, len(entries))
	}
}

func TestRecorderSessionTrace(t *testing.T) {
	tempDir := t.TempDir()
	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start("session1"); err != nil {
		t.Fatal(err)
	}
	path := r.Path()
	if !strings.HasPrefix(filepath.Base(path), "trace_session1_") {
		t.Fatalf("unexpected trace path %q", path)
	}

	r.Signal(navigation.TriggerRoute, navigation.Signals{RouteChanges: []string{"/contacts"}, ContentSize: 10})
	r.PageDetected(navigation.Detection{Heading: "contacts", Page: "contacts", OK: true})
	r.FieldDone(form.FieldResult{Page: "contacts", FieldID: "phone", DataKey: "PHONE", Type: mapping.FieldText,
		Value: "604-555-0100", Outcome: form.OutcomeFailed, Err: errors.New("detached")})
	r.PageDone(form.Report{Page: "contacts", Known: true, Failed: []string{"phone"}})
	if err := r.End(map[string]int{"pages": 1}); err != nil {
		t.Fatal(err)
	}
	if r.Path() != "" {
		t.Error("trace should be closed after End")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "604-555-0100") {
			t.Errorf("field values must not be traced: %s", line)
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad trace line %q: %v", line, err)
		}
		if ev.SessionID != "session1" {
			t.Errorf("event %s has session %q", ev.Type, ev.SessionID)
		}
		types = append(types, ev.Type)
	}
	want := []string{EventSessionStart, EventSignal, EventPageDetected, EventField, EventPageFilled, EventSessionEnd}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", types, want)
	}
}

func TestRecorderLogWithoutSessionIsNoop(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r.Log("note", "dropped")
	if err := r.Close(); err != nil {
		t.Errorf("Close without Start: %v", err)
	}
}
