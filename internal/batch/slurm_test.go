package batch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
)

// fakeRunner отвечает на вызовы утилит Slurm по имени утилиты.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	if err := r.errs[name]; err != nil {
		return nil, err
	}
	return []byte(r.outputs[name]), nil
}

func slurmConfig() config.Slurm {
	return config.Slurm{
		Partition: "gpu",
		Account:   "lab",
		Nodes:     1,
		Sbatch:    "sbatch",
		Squeue:    "squeue",
		Sacct:     "sacct",
	}
}

func TestSlurmSubmitter_Submit(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{outputs: map[string]string{"sbatch": "4242;cluster\n"}}
	sub := NewSlurmSubmitter(slurmConfig(), runner, quietLogger())

	h, err := sub.Submit(context.Background(), JobSpec{
		Name:    "run1/models/b00",
		Command: "rna_denovo.linuxgccrelease -nstruct 10",
		Dir:     dir,
		LogPath: filepath.Join(dir, "job.log"),
		Env:     []string{"OMP_NUM_THREADS=4"},
		Resources: domain.Resources{
			Threads:  4,
			Memory:   "8G",
			WallTime: 26 * time.Hour,
			GPUs:     1,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ID() != "4242" {
		t.Errorf("expected job id 4242, got %q", h.ID())
	}

	script, err := os.ReadFile(filepath.Join(dir, "run1-models-b00.sbatch"))
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	for _, want := range []string{
		"#SBATCH --job-name=run1-models-b00",
		"#SBATCH --cpus-per-task=4",
		"#SBATCH --mem=8G",
		"#SBATCH --time=1-02:00:00",
		"#SBATCH --gres=gpu:1",
		"#SBATCH --partition=gpu",
		"#SBATCH --account=lab",
		"export OMP_NUM_THREADS='4'",
		"rna_denovo.linuxgccrelease -nstruct 10",
	} {
		if !strings.Contains(string(script), want) {
			t.Errorf("script missing %q", want)
		}
	}
	if strings.Contains(string(script), "--qos") {
		t.Error("empty qos should be omitted")
	}
}

func TestSlurmSubmitter_SubmitError(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"sbatch": errors.New("invalid partition")}}
	sub := NewSlurmSubmitter(slurmConfig(), runner, quietLogger())

	_, err := sub.Submit(context.Background(), JobSpec{Name: "x", Command: "true", Dir: t.TempDir()})
	if !errors.Is(err, ErrSubmit) {
		t.Errorf("expected ErrSubmit, got %v", err)
	}
}

func TestSlurmSubmitter_Poll(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
		errs    map[string]error
		want    domain.JobState
	}{
		{"sacct completed", map[string]string{"sacct": "COMPLETED\n"}, nil, domain.JobStateSucceeded},
		{"sacct cancelled by user", map[string]string{"sacct": "CANCELLED by 1000\n"}, nil, domain.JobStateFailed},
		{"squeue fallback", map[string]string{"squeue": "RUNNING\n"}, map[string]error{"sacct": errors.New("no accounting")}, domain.JobStateRunning},
		{"not yet visible", map[string]string{}, nil, domain.JobStatePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: tt.outputs, errs: tt.errs}
			sub := NewSlurmSubmitter(slurmConfig(), runner, quietLogger())

			got, err := sub.Poll(context.Background(), NewHandle("7", "x", ""))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSlurmSubmitter_Poll_AbsentWithoutAccounting(t *testing.T) {
	noSacct := map[string]error{"sacct": errors.New("sacct: Slurm accounting storage is disabled")}

	tests := []struct {
		name       string
		assumeDone bool
		want       domain.JobState
		wantLog    string
	}{
		{"stays pending", false, domain.JobStatePending, "SLURM_ASSUME_DONE_WHEN_ABSENT"},
		{"assume done", true, domain.JobStateSucceeded, "assuming completed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := slurmConfig()
			cfg.AssumeDoneWhenAbsent = tt.assumeDone
			var logs bytes.Buffer
			runner := &fakeRunner{outputs: map[string]string{}, errs: noSacct}
			sub := NewSlurmSubmitter(cfg, runner, slog.New(slog.NewTextHandler(&logs, nil)))

			h := NewHandle("7", "run1/models/b00", "")
			h.observe(domain.JobStateRunning)
			got, err := sub.Poll(context.Background(), h)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), tt.wantLog) {
				t.Errorf("expected warning containing %q, got:\n%s", tt.wantLog, logs.String())
			}
		})
	}
}

func TestParseSlurmState(t *testing.T) {
	tests := map[string]domain.JobState{
		"PENDING":       domain.JobStatePending,
		"CONFIGURING":   domain.JobStatePending,
		"REQUEUED":      domain.JobStatePending,
		"RUNNING":       domain.JobStateRunning,
		"COMPLETING":    domain.JobStateRunning,
		"COMPLETED":     domain.JobStateSucceeded,
		"FAILED":        domain.JobStateFailed,
		"OUT_OF_MEMORY": domain.JobStateFailed,
		"NODE_FAIL":     domain.JobStateFailed,
		"CANCELLED+":    domain.JobStateFailed,
		"TIMEOUT":       domain.JobStateTimedOut,
	}
	for in, want := range tests {
		if got := ParseSlurmState(in); got != want {
			t.Errorf("ParseSlurmState(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatWallTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{10 * time.Second, "00:01:00"},
		{90 * time.Minute, "01:30:00"},
		{48 * time.Hour, "2-00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatWallTime(tt.in); got != tt.want {
			t.Errorf("FormatWallTime(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
