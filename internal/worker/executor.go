package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Command — вызов внешнего инструмента.
type Command struct {
	// Name — имя для журнала (stage или stage/variant).
	Name string

	// Line — командная строка для /bin/sh -c.
	Line string

	// Dir — рабочая директория процесса.
	Dir string

	// Env — полное окружение процесса. Окружение родителя не наследуется.
	Env []string

	// Stdin — данные для stdin.
	Stdin string

	// LogPath — журнал, куда дописываются stdout и stderr.
	LogPath string

	// StdoutPath — если задан, stdout пишется в этот файл, а не в журнал.
	StdoutPath string
}

// ExecutionResult — результат выполнения команды.
type ExecutionResult struct {
	// ExitCode — код выхода процесса.
	ExitCode int

	// StderrTail — последние строки stderr.
	StderrTail string

	// Duration — время выполнения.
	Duration time.Duration
}

// Executor выполняет команду синхронно.
//
// Ненулевой код выхода — не ошибка Execute: он возвращается в ExecutionResult.
// error означает, что процесс не удалось запустить или дождаться.
type Executor interface {
	Execute(ctx context.Context, cmd *Command) (*ExecutionResult, error)
}

// TailLines — сколько строк stderr сохраняется в результате.
const TailLines = 20

// ProcessExecutor запускает команды через /bin/sh.
type ProcessExecutor struct {
	// Shell — интерпретатор, по умолчанию /bin/sh.
	Shell string
}

// NewProcessExecutor создаёт ProcessExecutor.
func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{Shell: "/bin/sh"}
}

// Execute запускает команду и ждёт завершения.
// При отмене ctx вся группа процессов получает SIGKILL.
func (e *ProcessExecutor) Execute(ctx context.Context, c *Command) (*ExecutionResult, error) {
	if c == nil || strings.TrimSpace(c.Line) == "" {
		return nil, ErrEmptyCommand
	}

	logFile, err := openAppend(c.LogPath)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "=== %s %s\n$ %s\n", time.Now().UTC().Format(time.RFC3339), c.Name, c.Line)

	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-c", c.Line)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	tail := newTailBuffer(TailLines)
	cmd.Stderr = io.MultiWriter(logFile, tail)

	var stdoutFile *os.File
	if c.StdoutPath != "" {
		stdoutFile, err = os.Create(c.StdoutPath)
		if err != nil {
			return nil, fmt.Errorf("create stdout file: %w", err)
		}
		defer stdoutFile.Close()
		cmd.Stdout = stdoutFile
	} else {
		cmd.Stdout = logFile
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		// Убиваем всю группу процессов (отрицательный PID)
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		fmt.Fprintf(logFile, "=== killed: %v\n", ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionTimeout, c.Name)
		}
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	result := &ExecutionResult{
		StderrTail: tail.String(),
		Duration:   time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wait %s: %w", c.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	fmt.Fprintf(logFile, "=== exit code %d after %s\n", result.ExitCode, result.Duration.Round(time.Millisecond))
	return result, nil
}

func openAppend(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty log path", ErrExecutionFailed)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return f, nil
}
