package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/shaiso/Foldflow/internal/domain"
	"github.com/shaiso/Foldflow/internal/orchestrator"
)

const fakeRNAfold = `#!/bin/sh
cat > /dev/null
printf 'GGGAAACCC\n(((...))) ( -1.20)\n'
`

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

// --- Output ---

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(false, &buf, &buf)

	out.Print([]string{"TOOL", "PATH"}, [][]string{{"rnafold", "/opt/rnafold"}}, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "----") {
		t.Errorf("separator = %q", lines[1])
	}
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(true, &buf, &buf)

	out.Print(nil, nil, []ToolStatus{{Tool: "rnafold", Required: true}})

	var got []ToolStatus
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || got[0].Tool != "rnafold" {
		t.Errorf("got %+v", got)
	}
}

func TestOutput_Manifest(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(false, &buf, &buf)

	out.Manifest(&domain.RunManifest{
		Run:    &domain.PipelineRun{ID: "r1", WorkDir: "/runs/seq/r1"},
		Status: domain.RunStatusDegraded,
		Stages: []domain.StageSummary{
			{Stage: "models", Status: domain.StageStatusSucceeded, Branches: 7, Failed: 2, DurationMs: 1500},
		},
		Secondary:      &domain.SecondaryStructure{Variant: "default", Structure: "(((...)))", Energy: -1.2, BasePairs: 3},
		Variants:       []domain.SecondaryStructure{{Variant: "default"}, {Variant: "t25"}},
		FailedBranches: 2,
	})

	got := buf.String()
	for _, want := range []string{"models", "DEGRADED", "1.5s", "(((...)))", "2 failed branches", "default, t25"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

// --- Batch ---

func TestFindInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.fa", "a.fasta", "c.fas", "notes.txt"} {
		writeFile(t, filepath.Join(dir, name), ">x\nACGU\n", 0o644)
	}

	got, err := FindInputs(dir)
	if err != nil {
		t.Fatalf("FindInputs() error = %v", err)
	}
	want := []string{"a.fasta", "b.fa", "c.fas"}
	if len(got) != len(want) {
		t.Fatalf("FindInputs() = %v", got)
	}
	for i := range want {
		if filepath.Base(got[i]) != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, filepath.Base(got[i]), want[i])
		}
	}

	if _, err := FindInputs(t.TempDir()); !errors.Is(err, ErrNoInputs) {
		t.Errorf("FindInputs(empty) error = %v, want ErrNoInputs", err)
	}
}

// fakeRunner — Runner, отслеживающий параллелизм.
type fakeRunner struct {
	mu       sync.Mutex
	active   int
	peak     int
	runIDs   []string
	statuses map[string]domain.RunStatus
}

func (r *fakeRunner) Run(_ context.Context, req orchestrator.Request) (*orchestrator.Outcome, error) {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.runIDs = append(r.runIDs, req.RunID)
	status := r.statuses[filepath.Base(req.InputPath)]
	r.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	if status == "" {
		return nil, &domain.ConfigurationError{Key: "input", Message: "unreadable"}
	}
	run := &domain.PipelineRun{ID: req.RunID, Status: status}
	return &orchestrator.Outcome{Run: run, ManifestPath: "/runs/manifest.json"}, nil
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		filepath.Join(dir, "a.fasta"),
		filepath.Join(dir, "b.fasta"),
		filepath.Join(dir, "c.fasta"),
		filepath.Join(dir, "d.fasta"),
	}
	writeFile(t, inputs[0], ">seqA\nACGU\n", 0o644)
	writeFile(t, inputs[1], ">seqB\nACGU\n", 0o644)
	writeFile(t, inputs[2], ">seqC\nACGU\n", 0o644)
	writeFile(t, inputs[3], ">seqA\nGGCC\n", 0o644)

	r := &fakeRunner{statuses: map[string]domain.RunStatus{
		"a.fasta": domain.RunStatusSucceeded,
		"b.fasta": domain.RunStatusDegraded,
	}}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	results := RunBatch(context.Background(), r, inputs, domain.ModeFast, "batch-1", 2, logger)

	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	wantCodes := []int{orchestrator.ExitOK, orchestrator.ExitDegraded, orchestrator.ExitFatal, orchestrator.ExitFatal}
	for i, want := range wantCodes {
		if results[i].ExitCode != want {
			t.Errorf("results[%d].ExitCode = %d, want %d (%+v)", i, results[i].ExitCode, want, results[i])
		}
	}
	if !strings.Contains(results[3].Error, ErrDuplicateSequence.Error()) {
		t.Errorf("duplicate error = %q", results[3].Error)
	}
	if !strings.Contains(logs.String(), "input skipped") || !strings.Contains(logs.String(), "d.fasta") {
		t.Errorf("skipped input should be logged to the given logger:\n%s", logs.String())
	}
	if r.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", r.peak)
	}
	if len(r.runIDs) != 3 {
		t.Errorf("runs = %d, want 3 (duplicate skipped)", len(r.runIDs))
	}
	for _, id := range r.runIDs {
		if id != "batch-1" {
			t.Errorf("RunID = %q, want batch-1", id)
		}
	}
	if code := BatchExitCode(results); code != orchestrator.ExitFatal {
		t.Errorf("BatchExitCode() = %d, want %d", code, orchestrator.ExitFatal)
	}
}

func TestBatchExitCode(t *testing.T) {
	tests := []struct {
		name  string
		codes []int
		want  int
	}{
		{"empty", nil, orchestrator.ExitOK},
		{"all ok", []int{0, 0}, orchestrator.ExitOK},
		{"degraded", []int{0, 2}, orchestrator.ExitDegraded},
		{"fatal wins", []int{2, 1, 0}, orchestrator.ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]BatchResult, len(tt.codes))
			for i, c := range tt.codes {
				results[i].ExitCode = c
			}
			if got := BatchExitCode(results); got != tt.want {
				t.Errorf("BatchExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// --- Commands ---

type cmdEnv struct {
	dir    string
	values map[string]string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newCmdEnv(t *testing.T) *cmdEnv {
	t.Helper()
	dir := t.TempDir()
	rnafold := filepath.Join(dir, "bin", "rnafold")
	writeFile(t, rnafold, fakeRNAfold, 0o755)
	writeFile(t, filepath.Join(dir, "seq.fasta"), ">seq1\nGGGAAACCC\n", 0o644)

	return &cmdEnv{
		dir: dir,
		values: map[string]string{
			"TOOL_RNAFOLD_PATH":      rnafold,
			"PIPELINE_WORK_DIR":      filepath.Join(dir, "runs"),
			"PIPELINE_GATE_INTERVAL": "10ms",
			"LOG_LEVEL":              "ERROR",
		},
	}
}

func (e *cmdEnv) execute(t *testing.T, args ...string) error {
	t.Helper()
	app := &App{
		Stdout:    &e.stdout,
		Stderr:    &e.stderr,
		Overrides: envconfig.MapLookuper(e.values),
	}
	cmd := NewRootCmd(app, "test")
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func exitCode(err error) int {
	if err == nil {
		return orchestrator.ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return orchestrator.ExitFatal
}

func TestCheckCmd(t *testing.T) {
	env := newCmdEnv(t)

	if err := env.execute(t, "check", "--mode", "fast", "--json"); err != nil {
		t.Fatalf("check error = %v", err)
	}
	var statuses []ToolStatus
	if err := json.Unmarshal(env.stdout.Bytes(), &statuses); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, env.stdout.String())
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].Tool != "predict" || statuses[0].Available || statuses[0].Required {
		t.Errorf("predict = %+v", statuses[0])
	}
	if statuses[1].Tool != "rnafold" || !statuses[1].Available || !statuses[1].Required {
		t.Errorf("rnafold = %+v", statuses[1])
	}
}

func TestCheckCmd_MissingRequiredTool(t *testing.T) {
	env := newCmdEnv(t)

	err := env.execute(t, "check", "--mode", "accurate")
	if code := exitCode(err); code != orchestrator.ExitFatal {
		t.Errorf("exit code = %d, want %d", code, orchestrator.ExitFatal)
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("error = %v, want ConfigurationError", err)
	}
}

func TestRunCmd_FastWithPlaceholder(t *testing.T) {
	env := newCmdEnv(t)
	metricsFile := filepath.Join(env.dir, "foldflow.prom")

	err := env.execute(t, "run", "--mode", "fast", "--json", "--metrics-file", metricsFile, filepath.Join(env.dir, "seq.fasta"))
	if code := exitCode(err); code != orchestrator.ExitOK {
		t.Fatalf("exit code = %d (%v)", code, err)
	}

	var rm domain.RunManifest
	if err := json.Unmarshal(env.stdout.Bytes(), &rm); err != nil {
		t.Fatalf("invalid manifest JSON: %v", err)
	}
	if rm.Status != domain.RunStatusSucceeded || rm.Placeholders != 1 {
		t.Errorf("manifest status = %s, placeholders = %d", rm.Status, rm.Placeholders)
	}

	metrics, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(metrics), "foldflow_runs_total") {
		t.Error("metrics should contain foldflow_runs_total")
	}

	// status читает тот же run
	env.stdout.Reset()
	if err := env.execute(t, "status", "--json", rm.Run.WorkDir); err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(env.stdout.String(), rm.Run.ID) {
		t.Errorf("status output should contain run ID:\n%s", env.stdout.String())
	}
}

func TestRunCmd_QueueChecksToolsBeforeConnecting(t *testing.T) {
	env := newCmdEnv(t)
	env.values["PIPELINE_SUBMITTER"] = "queue"
	env.values["QUEUE_DB_URL"] = "postgres://foldflow@127.0.0.1:1/foldflow?connect_timeout=1"

	err := env.execute(t, "run", "--mode", "accurate", filepath.Join(env.dir, "seq.fasta"))
	if code := exitCode(err); code != orchestrator.ExitFatal {
		t.Fatalf("exit code = %d, want %d", code, orchestrator.ExitFatal)
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("error = %v, want ConfigurationError", err)
	}
	if strings.Contains(err.Error(), "connect to database") {
		t.Errorf("database should not be contacted before tools are checked: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(env.dir, "runs")); !os.IsNotExist(statErr) {
		t.Errorf("work dir should not be created, stat error = %v", statErr)
	}
}

func TestRunCmd_InvalidMode(t *testing.T) {
	env := newCmdEnv(t)

	err := env.execute(t, "run", "--mode", "slow", filepath.Join(env.dir, "seq.fasta"))
	if code := exitCode(err); code != orchestrator.ExitFatal {
		t.Errorf("exit code = %d, want %d", code, orchestrator.ExitFatal)
	}
}

func TestBatchCmd(t *testing.T) {
	env := newCmdEnv(t)
	inputDir := filepath.Join(env.dir, "inputs")
	writeFile(t, filepath.Join(inputDir, "one.fasta"), ">one\nGGGAAACCC\n", 0o644)
	writeFile(t, filepath.Join(inputDir, "two.fa"), ">two\nGGGAAACCC\n", 0o644)

	err := env.execute(t, "batch", "--mode", "fast", "--json", "--input-dir", inputDir, "--run-id", "nightly")
	if code := exitCode(err); code != orchestrator.ExitOK {
		t.Fatalf("exit code = %d (%v)", code, err)
	}

	var results []BatchResult
	if err := json.Unmarshal(env.stdout.Bytes(), &results); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	for _, r := range results {
		if r.RunID != "nightly" || r.Status != domain.RunStatusSucceeded {
			t.Errorf("result = %+v", r)
		}
	}
	for _, seq := range []string{"one", "two"} {
		if _, err := os.Stat(filepath.Join(env.dir, "runs", seq, "nightly", orchestrator.ManifestFile)); err != nil {
			t.Errorf("manifest for %s: %v", seq, err)
		}
	}
}

func TestBatchCmd_InvalidSchedule(t *testing.T) {
	env := newCmdEnv(t)
	inputDir := filepath.Join(env.dir, "inputs")
	writeFile(t, filepath.Join(inputDir, "one.fasta"), ">one\nGGGAAACCC\n", 0o644)

	err := env.execute(t, "batch", "--mode", "fast", "--input-dir", inputDir, "--schedule", "every tuesday")
	if code := exitCode(err); code != orchestrator.ExitFatal {
		t.Errorf("exit code = %d, want %d", code, orchestrator.ExitFatal)
	}
}
