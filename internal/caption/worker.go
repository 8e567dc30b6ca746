package caption

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tamacloud/internal/repository"
)

const backfillBatch = 5

// Worker 描述回填
// 周期扫描未生成描述的带图读数，逐张调用描述服务后写回
// 摄取路径从不等待描述，失败的图下个周期重试
type Worker struct {
	client   *Client
	readings repository.ReadingRepo
	logger   *zap.Logger

	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewWorker(client *Client, readings repository.ReadingRepo, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		client:   client,
		readings: readings,
		logger:   logger,
		interval: interval,
	}
}

// Start 启动回填循环
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	go w.run(runCtx)
	w.logger.Info("Caption worker started", zap.Duration("interval", w.interval))
}

// Stop 停止回填循环
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	w.logger.Info("Caption worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.backfill(ctx)
		}
	}
}

func (w *Worker) backfill(ctx context.Context) {
	ids, err := w.readings.UncaptionedImages(ctx, backfillBatch)
	if err != nil {
		w.logger.Error("Failed to list uncaptioned images", zap.Error(err))
		return
	}

	for _, id := range ids {
		image, _, err := w.readings.ImageByID(ctx, id)
		if err != nil {
			w.logger.Warn("Failed to load image for captioning", zap.Int64("reading_id", id), zap.Error(err))
			continue
		}

		caption, err := w.client.Caption(ctx, image)
		if err != nil {
			w.logger.Warn("Caption generation failed", zap.Int64("reading_id", id), zap.Error(err))
			continue
		}

		if err := w.readings.SetCaption(ctx, id, caption); err != nil {
			w.logger.Error("Failed to store caption", zap.Int64("reading_id", id), zap.Error(err))
			continue
		}
		w.logger.Info("Image caption stored", zap.Int64("reading_id", id))
	}
}
