package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanupTask deletes one kind of expired record and reports how many rows it removed.
type CleanupTask struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired sessions and action tokens
type CleanupManager struct {
	tasks    []CleanupTask
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(tasks []CleanupTask, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		tasks:    tasks,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start runs every task immediately and then once per interval until Stop
// is called or ctx is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs each task in order. A failing task does not stop the rest.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	for _, task := range cm.tasks {
		cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
		rows, err := task.Run(cleanupCtx)
		cancel()

		if err != nil {
			cm.logger.Error("cleanup failed", slog.String("task", task.Name), slog.Any("error", err))
			continue
		}
		if rows > 0 {
			cm.logger.Info("cleanup completed", slog.String("task", task.Name), slog.Int64("rows_deleted", rows))
		}
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
