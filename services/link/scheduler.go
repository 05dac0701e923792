package link

import (
	"context"
	"time"

	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/pkg/task"
	"affiliate-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHealthSweepInterval = time.Hour

// Scheduler enqueues the periodic link health sweep.
type Scheduler struct {
	enqueuer task.Enqueuer
	interval time.Duration
}

func NewScheduler(enqueuer task.Enqueuer, cfg *config.Config) *Scheduler {
	interval := cfg.Affiliate.LinkHealthInterval
	if interval <= 0 {
		interval = defaultHealthSweepInterval
	}
	return &Scheduler{enqueuer: enqueuer, interval: interval}
}

// StartScheduler dipanggil otomatis oleh FX saat service start
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(ctx)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started link health sweep scheduler",
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueueSweep()
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueueSweep() {
	start := time.Now()

	if _, err := s.enqueuer.Enqueue(
		asynq.NewTask(taskname.LinkHealthSweep, nil),
		asynq.Queue("low"),
	); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue health sweep", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] enqueued link health sweep",
		zap.Duration("duration", time.Since(start)),
	)
}
