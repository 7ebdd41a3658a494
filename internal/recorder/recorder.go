// Package recorder writes a JSONL trace of each fill session so an operator
// can review what the filler did after the browser is closed.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ryanscovill/jp-work-automation/internal/form"
	"github.com/ryanscovill/jp-work-automation/internal/navigation"
)

const (
	MaxRotatedFiles = 5
	TraceDir        = "data/traces"
)

// Event types written to the trace.
const (
	EventSessionStart = "session_start"
	EventPageDetected = "page_detected"
	EventSignal       = "signal"
	EventField        = "field"
	EventPageFilled   = "page_filled"
	EventSessionEnd   = "session_end"
)

// Event is a single trace line.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder manages the rotating trace files of fill sessions.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	encoder   *json.Encoder
	basePath  string
	sessionID string
	now       func() time.Time
}

// NewRecorder creates a recorder rooted at basePath, creating the directory.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, now: time.Now}, nil
}

// Start opens the trace file for a session, pruning old traces so at most
// MaxRotatedFiles remain.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", sessionID, r.now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(f)
	r.sessionID = sessionID
	r.write(EventSessionStart, map[string]string{"session_id": sessionID})
	return nil
}

// Path returns the current trace file, or "" when no session is open.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Log writes an event to the current trace file.
func (r *Recorder) Log(eventType string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(eventType, data)
}

func (r *Recorder) write(eventType string, data interface{}) {
	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: r.now(),
		Type:      eventType,
		SessionID: r.sessionID,
		Data:      data,
	})
}

type fieldEvent struct {
	Page     string `json:"page"`
	Field    string `json:"field"`
	DataKey  string `json:"data_key"`
	Type     string `json:"type"`
	Outcome  string `json:"outcome"`
	Selector string `json:"selector,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FieldDone traces a field outcome. Values are left out of the trace since
// records carry personal contact details.
func (r *Recorder) FieldDone(res form.FieldResult) {
	ev := fieldEvent{
		Page:     res.Page,
		Field:    res.FieldID,
		DataKey:  res.DataKey,
		Type:     res.Type.String(),
		Outcome:  string(res.Outcome),
		Selector: res.Selector,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	r.Log(EventField, ev)
}

// PageDone traces the counts of a page fill.
func (r *Recorder) PageDone(rep form.Report) {
	r.Log(EventPageFilled, map[string]interface{}{
		"page":      rep.Page,
		"known":     rep.Known,
		"filled":    len(rep.Filled),
		"not_found": rep.NotFound,
		"failed":    rep.Failed,
		"skipped":   len(rep.Skipped),
	})
}

// PageDetected traces a detection made by the navigation monitor.
func (r *Recorder) PageDetected(d navigation.Detection) {
	r.Log(EventPageDetected, d)
}

// Signal traces the navigation signal that woke the monitor.
func (r *Recorder) Signal(t navigation.Trigger, sig navigation.Signals) {
	r.Log(EventSignal, map[string]interface{}{
		"trigger":      string(t),
		"routes":       sig.RouteChanges,
		"content_size": sig.ContentSize,
	})
}

// End writes the session summary and closes the trace.
func (r *Recorder) End(summary interface{}) error {
	r.Log(EventSessionEnd, summary)
	return r.Close()
}

// rotate keeps only the newest MaxRotatedFiles-1 traces, making room for the next.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].mod.After(traces[j].mod)
	})
	if len(traces) >= MaxRotatedFiles {
		for _, t := range traces[MaxRotatedFiles-1:] {
			_ = os.Remove(filepath.Join(r.basePath, t.name))
		}
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	return err
}

var _ form.Observer = (*Recorder)(nil)
