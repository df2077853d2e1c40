package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/persistence"
)

// Reloader rebuilds the active settings snapshot.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ChangeFeed signals that another instance changed the settings.
type ChangeFeed interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// ConfigReloader refreshes settings on a timer and on change signals.
type ConfigReloader struct {
	reloader Reloader
	feed     ChangeFeed
	interval time.Duration
	logger   *zap.Logger
}

// NewConfigReloader creates a reloader. feed may be nil.
func NewConfigReloader(reloader Reloader, feed ChangeFeed, interval time.Duration, logger *zap.Logger) *ConfigReloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigReloader{
		reloader: reloader,
		feed:     feed,
		interval: interval,
		logger:   logger.Named("config_reloader"),
	}
}

// Run blocks until ctx is cancelled.
func (r *ConfigReloader) Run(ctx context.Context) {
	var changes <-chan struct{}
	if r.feed != nil {
		ch, err := r.feed.Changes(ctx)
		if err != nil {
			r.logger.Warn("settings change feed unavailable; relying on periodic reload", zap.Error(err))
		} else {
			changes = ch
		}
	}
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	if changes == nil && tick == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.reload(ctx, "interval")
		case _, ok := <-changes:
			if !ok {
				changes = nil
				if tick == nil {
					return
				}
				continue
			}
			r.reload(ctx, "broadcast")
		}
	}
}

func (r *ConfigReloader) reload(ctx context.Context, trigger string) {
	if err := r.reloader.Reload(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("settings reload failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

type redisChangeFeed struct {
	redis   *persistence.Redis
	channel string
}

// NewRedisChangeFeed turns messages on a Redis channel into change signals.
func NewRedisChangeFeed(redis *persistence.Redis, channel string) ChangeFeed {
	return &redisChangeFeed{redis: redis, channel: channel}
}

func (f *redisChangeFeed) Changes(ctx context.Context) (<-chan struct{}, error) {
	sub, err := f.redis.Subscribe(ctx, f.channel)
	if err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
