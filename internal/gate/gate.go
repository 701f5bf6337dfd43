// Package gate реализует DependencyGate: ожидание артефакта upstream стадии.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Foldflow/internal/domain"
)

// DefaultInterval — интервал опроса по умолчанию.
const DefaultInterval = 2 * time.Second

// Gate опрашивает файловую систему с фиксированным интервалом.
type Gate struct {
	interval time.Duration
	logger   *slog.Logger
}

// New создаёт Gate. interval <= 0 заменяется DefaultInterval.
func New(interval time.Duration, logger *slog.Logger) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{interval: interval, logger: logger}
}

// Await ждёт, пока path станет непустым обычным файлом.
//
// Первая проверка выполняется сразу. Возвращает false, если артефакт не
// появился за timeout или ctx отменён. Сам файл не изменяется.
func (g *Gate) Await(ctx context.Context, path string, timeout time.Duration) bool {
	artifact := domain.Artifact{Path: path}
	if artifact.Ready() {
		return true
	}

	g.logger.Info("waiting for artifact", "path", path, "timeout", timeout)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			// Последняя проверка: файл мог появиться между тиками
			if artifact.Ready() {
				return true
			}
			g.logger.Warn("artifact did not appear", "path", path, "timeout", timeout)
			return false
		case <-ticker.C:
			if artifact.Ready() {
				return true
			}
		}
	}
}
