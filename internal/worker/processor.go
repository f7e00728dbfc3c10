// Package worker runs the background maintenance tasks: sweeping queue
// entries whose owners abandoned them past the configured timeout.
package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lexmatch-backend/internal/queue"
)

const TaskCleanupExpired = "cleanup:expired"

type Processor struct {
	queues          *queue.Store
	server          *asynq.Server
	client          *asynq.Client
	entryTTL        time.Duration
	cleanupInterval time.Duration
	logger          *zap.Logger
	cancel          context.CancelFunc
}

func NewProcessor(queues *queue.Store, redisURL string, entryTTL, cleanupInterval time.Duration, logger *zap.Logger) (*Processor, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"cleanup": 1,
		},
	})

	return &Processor{
		queues:          queues,
		server:          server,
		client:          asynq.NewClient(redisOpt),
		entryTTL:        entryTTL,
		cleanupInterval: cleanupInterval,
		logger:          logger,
	}, nil
}

func (p *Processor) Start(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskCleanupExpired, p.handleCleanupTask)

	go func() {
		if err := p.server.Run(mux); err != nil {
			p.logger.Error("asynq server stopped", zap.Error(err))
		}
	}()

	ctx, p.cancel = context.WithCancel(ctx)
	go p.schedule(ctx)

	p.logger.Info("background processor started",
		zap.Duration("entry_ttl", p.entryTTL),
		zap.Duration("cleanup_interval", p.cleanupInterval))
	return nil
}

func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.server.Shutdown()
	p.client.Close()
}

func (p *Processor) handleCleanupTask(ctx context.Context, _ *asynq.Task) error {
	removed, err := p.queues.RemoveExpired(ctx, p.entryTTL)
	if err != nil {
		p.logger.Error("cleanup sweep failed", zap.Error(err))
		return err
	}
	if removed > 0 {
		p.logger.Info("cleanup sweep removed expired queue entries",
			zap.Int("removed", removed))
	}
	return nil
}

func (p *Processor) schedule(ctx context.Context) {
	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task := asynq.NewTask(TaskCleanupExpired, nil)
			if _, err := p.client.Enqueue(task, asynq.Queue("cleanup")); err != nil {
				p.logger.Error("failed to enqueue cleanup task", zap.Error(err))
			}
		}
	}
}
