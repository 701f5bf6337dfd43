package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/repo"
)

// --- ProcessExecutor Tests ---

func newCommand(t *testing.T, line string) *Command {
	t.Helper()
	dir := t.TempDir()
	return &Command{
		Name:    "test",
		Line:    line,
		Dir:     dir,
		LogPath: filepath.Join(dir, "test.log"),
	}
}

func TestProcessExecutor_ExitCode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{"success", "true", 0},
		{"failure", "exit 3", 3},
		{"not found", "/nonexistent/tool", 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewProcessExecutor().Execute(context.Background(), newCommand(t, tt.line))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ExitCode != tt.want {
				t.Errorf("expected exit code %d, got %d", tt.want, result.ExitCode)
			}
		})
	}
}

func TestProcessExecutor_StdoutCapture(t *testing.T) {
	c := newCommand(t, "cat")
	c.Stdin = ">seq\nGGGAAACCC\n"
	c.StdoutPath = filepath.Join(c.Dir, "out.txt")

	if _, err := NewProcessExecutor().Execute(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(c.StdoutPath)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(data) != c.Stdin {
		t.Errorf("expected stdout %q, got %q", c.Stdin, data)
	}
}

func TestProcessExecutor_StderrTail(t *testing.T) {
	c := newCommand(t, "for i in $(seq 1 30); do echo line$i >&2; done; exit 1")

	result, err := NewProcessExecutor().Execute(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}

	lines := strings.Split(result.StderrTail, "\n")
	if len(lines) != TailLines {
		t.Fatalf("expected %d tail lines, got %d", TailLines, len(lines))
	}
	if lines[0] != "line11" || lines[len(lines)-1] != "line30" {
		t.Errorf("unexpected tail bounds: %q .. %q", lines[0], lines[len(lines)-1])
	}

	log, _ := os.ReadFile(c.LogPath)
	if !strings.Contains(string(log), "line1\n") {
		t.Error("log should contain full stderr")
	}
}

func TestProcessExecutor_IsolatedEnv(t *testing.T) {
	t.Setenv("FOLDFLOW_LEAK", "yes")

	c := newCommand(t, "echo \"[$FOLDFLOW_LEAK][$OMP_NUM_THREADS]\"")
	c.Env = []string{"OMP_NUM_THREADS=4"}
	c.StdoutPath = filepath.Join(c.Dir, "env.txt")

	if _, err := NewProcessExecutor().Execute(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(c.StdoutPath)
	if got := strings.TrimSpace(string(data)); got != "[][4]" {
		t.Errorf("expected isolated env, got %q", got)
	}
}

func TestProcessExecutor_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewProcessExecutor().Execute(ctx, newCommand(t, "sleep 10"))
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("expected ErrExecutionTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process group should be killed promptly")
	}
}

func TestProcessExecutor_EmptyCommand(t *testing.T) {
	_, err := NewProcessExecutor().Execute(context.Background(), newCommand(t, "  "))
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand, got %v", err)
	}
}

// --- Tail Tests ---

func TestTailBuffer(t *testing.T) {
	tail := newTailBuffer(2)
	tail.Write([]byte("a\nb"))
	tail.Write([]byte("c\nd\ne"))

	if got := tail.String(); got != "d\ne" {
		t.Errorf("expected %q, got %q", "d\ne", got)
	}
}

func TestFileTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.log")
	os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644)

	if got := FileTail(path, 2); got != "two\nthree" {
		t.Errorf("expected last two lines, got %q", got)
	}
	if got := FileTail(filepath.Join(t.TempDir(), "missing"), 2); got != "" {
		t.Errorf("expected empty tail for missing file, got %q", got)
	}
}

// --- Worker Tests ---

// memoryJobs — JobStore в памяти.
type memoryJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func newMemoryJobs(jobs ...*domain.Job) *memoryJobs {
	m := &memoryJobs{jobs: make(map[uuid.UUID]*domain.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memoryJobs) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memoryJobs) Claim(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[job.ID]
	if !ok || j.State != domain.JobStatePending {
		return repo.ErrInvalidState
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memoryJobs) Finish(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memoryJobs) ListPending(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.State == domain.JobStatePending && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memoryJobs) get(id uuid.UUID) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func pendingJob(t *testing.T, line string) *domain.Job {
	t.Helper()
	dir := t.TempDir()
	return &domain.Job{
		ID:          uuid.New(),
		Name:        "run/models/b00",
		Command:     line,
		Dir:         dir,
		LogPath:     filepath.Join(dir, "job.log"),
		State:       domain.JobStatePending,
		SubmittedAt: time.Now(),
	}
}

func TestWorker_ProcessJob(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wallTime time.Duration
		want     domain.JobState
		wantCode int
	}{
		{"succeeded", "echo ok > out.txt", 0, domain.JobStateSucceeded, 0},
		{"failed", "exit 2", 0, domain.JobStateFailed, 2},
		{"timed out", "sleep 10", 100 * time.Millisecond, domain.JobStateTimedOut, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := pendingJob(t, tt.line)
			job.Resources.WallTime = tt.wallTime
			store := newMemoryJobs(job)
			w := New(Config{ID: "w1", Jobs: store})

			if err := w.processJob(context.Background(), job.ID); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := store.get(job.ID)
			if got.State != tt.want {
				t.Errorf("expected state %s, got %s", tt.want, got.State)
			}
			if got.ExitCode == nil || *got.ExitCode != tt.wantCode {
				t.Errorf("expected exit code %d, got %v", tt.wantCode, got.ExitCode)
			}
			if got.WorkerID != "w1" {
				t.Errorf("expected worker id w1, got %q", got.WorkerID)
			}
		})
	}
}

func TestWorker_ProcessJob_NotPending(t *testing.T) {
	job := pendingJob(t, "true")
	job.State = domain.JobStateRunning
	w := New(Config{Jobs: newMemoryJobs(job)})

	err := w.processJob(context.Background(), job.ID)
	if !errors.Is(err, ErrJobNotPending) {
		t.Errorf("expected ErrJobNotPending, got %v", err)
	}
}

func TestWorker_ProcessJob_NotFound(t *testing.T) {
	w := New(Config{Jobs: newMemoryJobs()})

	err := w.processJob(context.Background(), uuid.New())
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestWorker_Poll(t *testing.T) {
	a := pendingJob(t, "true")
	b := pendingJob(t, "exit 1")
	store := newMemoryJobs(a, b)
	w := New(Config{Jobs: store})

	w.poll(context.Background())

	if store.get(a.ID).State != domain.JobStateSucceeded {
		t.Errorf("job a: expected SUCCEEDED, got %s", store.get(a.ID).State)
	}
	if store.get(b.ID).State != domain.JobStateFailed {
		t.Errorf("job b: expected FAILED, got %s", store.get(b.ID).State)
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	w := New(Config{})

	if w.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", defaultPollInterval, w.pollInterval)
	}
	if w.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, w.batchSize)
	}
	if w.executor == nil {
		t.Error("executor should be initialized")
	}
	if w.ID() == "" {
		t.Error("worker id should be generated")
	}
}

func TestWorker_IsStopped(t *testing.T) {
	w := New(Config{})

	if w.IsStopped() {
		t.Error("should not be stopped initially")
	}

	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	if !w.IsStopped() {
		t.Error("should be stopped")
	}
}
