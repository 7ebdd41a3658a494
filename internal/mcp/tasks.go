package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/facts"
	"github.com/ryanscovill/jp-work-automation/internal/session"
)

// ErrBusy is returned when a fill session is already running.
var ErrBusy = errors.New("a form filling session is already running")

// Task states reported by task-status.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task is the state of one background fill session.
type Task struct {
	ID        string           `json:"task_id"`
	DataFile  string           `json:"data_file"`
	Status    string           `json:"status"`
	Message   string           `json:"message"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
	Summary   *session.Summary `json:"summary,omitempty"`
	Error     string           `json:"error,omitempty"`

	ledger *facts.Ledger
}

// RunFunc runs one session for dataFile and returns its summary and ledger.
type RunFunc func(ctx context.Context, dataFile string) (session.Summary, *facts.Ledger, error)

// TaskManager runs fill sessions in the background, one at a time. A browser
// window is a single shared resource, so a second request is refused rather
// than queued.
type TaskManager struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	order   []string
	running string
	run     RunFunc
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTaskManager(run RunFunc, logger *zap.Logger) *TaskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskManager{
		tasks:  make(map[string]*Task),
		run:    run,
		logger: logger.Named("tasks"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches a session for dataFile and returns its task id.
func (m *TaskManager) Start(dataFile string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running != "" {
		return "", ErrBusy
	}
	if m.ctx.Err() != nil {
		return "", errors.New("task manager is shut down")
	}

	task := &Task{
		ID:        uuid.NewString(),
		DataFile:  dataFile,
		Status:    TaskRunning,
		Message:   "NOP form filling started",
		StartedAt: time.Now(),
	}
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	m.running = task.ID

	m.wg.Add(1)
	go m.execute(task.ID, dataFile)
	return task.ID, nil
}

func (m *TaskManager) execute(id, dataFile string) {
	defer m.wg.Done()
	logger := m.logger.With(zap.String("task_id", id), zap.String("data_file", dataFile))
	logger.Info("fill task started")

	sum, ledger, err := m.run(m.ctx, dataFile)

	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[id]
	task.EndedAt = time.Now()
	task.ledger = ledger
	if sum.SessionID != "" {
		task.Summary = &sum
	}
	if err != nil {
		task.Status = TaskFailed
		task.Error = err.Error()
		task.Message = "NOP form filling failed"
		logger.Error("fill task failed", zap.Error(err))
	} else {
		task.Status = TaskCompleted
		task.Message = sum.Message
		logger.Info("fill task completed", zap.String("message", sum.Message))
	}
	m.running = ""
}

// Get returns a copy of the task with the given id.
func (m *TaskManager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Latest returns the most recently started task.
func (m *TaskManager) Latest() (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return Task{}, false
	}
	return *m.tasks[m.order[len(m.order)-1]], true
}

// Ledger returns the fill ledger of a finished task.
func (t Task) Ledger() *facts.Ledger { return t.ledger }

// Close cancels a running session and waits for it to finish.
func (m *TaskManager) Close() {
	m.cancel()
	m.wg.Wait()
}
