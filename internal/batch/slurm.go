package batch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Foldflow/internal/config"
	"github.com/shaiso/Foldflow/internal/domain"
)

// CommandRunner запускает утилиты Slurm.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner — CommandRunner на os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// SlurmSubmitter отправляет jobs через sbatch.
type SlurmSubmitter struct {
	cfg    config.Slurm
	runner CommandRunner
	logger *slog.Logger
}

// NewSlurmSubmitter создаёт SlurmSubmitter.
// runner == nil — утилиты запускаются через os/exec.
func NewSlurmSubmitter(cfg config.Slurm, runner CommandRunner, logger *slog.Logger) *SlurmSubmitter {
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlurmSubmitter{cfg: cfg, runner: runner, logger: logger}
}

// Name возвращает имя backend'а.
func (s *SlurmSubmitter) Name() string { return "slurm" }

// Submit пишет sbatch скрипт в Dir и отправляет его.
func (s *SlurmSubmitter) Submit(ctx context.Context, spec JobSpec) (*JobHandle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCommand, spec.Name)
	}

	script := filepath.Join(spec.Dir, jobName(spec.Name)+".sbatch")
	if err := os.WriteFile(script, []byte(s.Script(spec)), 0o755); err != nil {
		return nil, fmt.Errorf("write sbatch script: %w", err)
	}

	out, err := s.runner.Run(ctx, s.cfg.Sbatch, "--parsable", script)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSubmit, spec.Name, err)
	}

	// --parsable: "<job id>" или "<job id>;<cluster>"
	id, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	if id == "" {
		return nil, fmt.Errorf("%w: %s: sbatch returned no job id", ErrSubmit, spec.Name)
	}

	s.logger.Debug("slurm job submitted", "job_id", id, "name", spec.Name, "script", script)
	return NewHandle(id, spec.Name, spec.LogPath), nil
}

// Script возвращает текст sbatch скрипта.
// Окружение родителя не экспортируется, переменные job задаются явно.
func (s *SlurmSubmitter) Script(spec JobSpec) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	directive := func(format string, args ...any) {
		fmt.Fprintf(&b, "#SBATCH "+format+"\n", args...)
	}

	directive("--job-name=%s", jobName(spec.Name))
	directive("--output=%s", spec.LogPath)
	directive("--error=%s", spec.LogPath)
	directive("--export=NONE")

	nodes := spec.Resources.Nodes
	if nodes <= 0 {
		nodes = s.cfg.Nodes
	}
	if nodes > 0 {
		directive("--nodes=%d", nodes)
	}
	if spec.Resources.Threads > 0 {
		directive("--cpus-per-task=%d", spec.Resources.Threads)
	}
	if spec.Resources.Memory != "" {
		directive("--mem=%s", spec.Resources.Memory)
	}
	if spec.Resources.WallTime > 0 {
		directive("--time=%s", FormatWallTime(spec.Resources.WallTime))
	}
	if spec.Resources.GPUs > 0 {
		directive("--gres=gpu:%d", spec.Resources.GPUs)
	}
	if s.cfg.Partition != "" {
		directive("--partition=%s", s.cfg.Partition)
	}
	if s.cfg.Account != "" {
		directive("--account=%s", s.cfg.Account)
	}
	if s.cfg.QOS != "" {
		directive("--qos=%s", s.cfg.QOS)
	}
	if s.cfg.Exclude != "" {
		directive("--exclude=%s", s.cfg.Exclude)
	}

	b.WriteString("\n")
	for _, kv := range spec.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "export %s=%s\n", key, shellQuote(value))
	}
	fmt.Fprintf(&b, "cd %s || exit 1\n", shellQuote(spec.Dir))
	b.WriteString(spec.Command)
	b.WriteString("\n")
	return b.String()
}

// Poll возвращает состояние job из sacct, при его недоступности из squeue.
// Job, которого ещё нет ни там, ни там, считается PENDING.
// Без sacct job, пропавший из squeue, считается SUCCEEDED только при
// AssumeDoneWhenAbsent: результат подтверждают артефакты стадии.
func (s *SlurmSubmitter) Poll(ctx context.Context, h *JobHandle) (domain.JobState, error) {
	out, err := s.runner.Run(ctx, s.cfg.Sacct, "-j", h.ID(), "-X", "-n", "-P", "-o", "State")
	accounting := err == nil
	if accounting {
		if state, ok := firstState(out); ok {
			return ParseSlurmState(state), nil
		}
	} else {
		s.logger.Debug("sacct failed, falling back to squeue", "job_id", h.ID(), "error", err)
	}

	out, err = s.runner.Run(ctx, s.cfg.Squeue, "-h", "-j", h.ID(), "-o", "%T")
	if err != nil {
		return "", fmt.Errorf("poll slurm job %s: %w", h.ID(), err)
	}
	if state, ok := firstState(out); ok {
		return ParseSlurmState(state), nil
	}
	if accounting {
		return domain.JobStatePending, nil
	}

	if s.cfg.AssumeDoneWhenAbsent {
		s.logger.Warn("job left squeue and sacct is unavailable, assuming completed",
			"job_id", h.ID(), "name", h.Name(), "last_state", h.State())
		return domain.JobStateSucceeded, nil
	}
	s.logger.Warn("job absent from squeue and sacct is unavailable, state unknown",
		"job_id", h.ID(), "name", h.Name(), "hint", "set SLURM_ASSUME_DONE_WHEN_ABSENT=true")
	return domain.JobStatePending, nil
}

// firstState возвращает первое слово первой непустой строки.
// sacct пишет, например, "CANCELLED by 1000".
func firstState(out []byte) (string, bool) {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields[0], true
		}
	}
	return "", false
}

// ParseSlurmState переводит состояние Slurm в JobState.
func ParseSlurmState(s string) domain.JobState {
	s = strings.ToUpper(strings.TrimRight(strings.TrimSpace(s), "+"))
	switch s {
	case "RUNNING", "COMPLETING", "STAGE_OUT", "SIGNALING":
		return domain.JobStateRunning
	case "COMPLETED":
		return domain.JobStateSucceeded
	case "FAILED", "CANCELLED", "NODE_FAIL", "OUT_OF_MEMORY", "BOOT_FAIL", "DEADLINE", "PREEMPTED", "REVOKED", "SPECIAL_EXIT":
		return domain.JobStateFailed
	case "TIMEOUT":
		return domain.JobStateTimedOut
	default:
		// PENDING, CONFIGURING, REQUEUED, RESIZING, SUSPENDED и неизвестные
		return domain.JobStatePending
	}
}

// FormatWallTime форматирует лимит времени для --time: [D-]HH:MM:SS.
func FormatWallTime(d time.Duration) string {
	total := int64(d.Round(time.Second) / time.Second)
	if total < 60 {
		total = 60
	}
	days := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// jobName делает имя job пригодным для Slurm и имени файла.
func jobName(name string) string {
	return domain.SafeName(strings.ReplaceAll(name, "/", "-"))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
