package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/domain"
	"tamacloud/internal/repository"
)

// StatsAggregator 步数日统计重算
// 每 60 秒按读数全量重算当日统计并整行覆盖，修正即时路径的累计漂移
type StatsAggregator struct {
	readings repository.ReadingRepo
	stats    repository.StepStatRepo
	logger   *zap.Logger

	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewStatsAggregator(readings repository.ReadingRepo, stats repository.StepStatRepo, interval time.Duration, logger *zap.Logger) *StatsAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsAggregator{
		readings: readings,
		stats:    stats,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动重算循环
func (a *StatsAggregator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})
	go a.run(runCtx)
	a.logger.Info("Step statistics aggregator started", zap.Duration("interval", a.interval))
}

// Stop 停止重算循环
func (a *StatsAggregator) Stop() {
	a.mu.Lock()
	cancel, stopped := a.cancel, a.stopped
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	a.logger.Info("Step statistics aggregator stopped")
}

func (a *StatsAggregator) run(ctx context.Context) {
	defer close(a.stopped)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RecomputeAll(ctx)
		}
	}
}

// RecomputeAll 对每个有读数的设备重算当日统计
func (a *StatsAggregator) RecomputeAll(ctx context.Context) {
	devices, err := a.readings.Devices(ctx)
	if err != nil {
		a.logger.Error("Aggregator failed to list devices", zap.Error(err))
		return
	}
	for _, deviceID := range devices {
		if err := a.Recompute(ctx, deviceID); err != nil {
			a.logger.Error("Failed to recompute daily stats",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}
}

// Recompute 重算单设备当日统计并覆盖写入
func (a *StatsAggregator) Recompute(ctx context.Context, deviceID string) error {
	day := a.now()
	total, peak, avg, err := a.readings.DailyStepAggregate(ctx, deviceID, day)
	if err != nil {
		return err
	}

	stat := &domain.StepDailyStat{
		DeviceID:        deviceID,
		Date:            day,
		TotalSteps:      total,
		PeakSteps:       peak,
		AvgStepInterval: avg,
		ActivityLevel:   domain.ActivityLevelFor(total),
	}
	if err := a.stats.ReplaceDaily(ctx, stat); err != nil {
		return err
	}

	a.logger.Debug("Daily step statistics recomputed",
		zap.String("device_id", deviceID),
		zap.Int("total", total),
		zap.Int("peak", peak),
		zap.String("activity", stat.ActivityLevel))
	return nil
}
