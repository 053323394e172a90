package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps for trades past their settlement deadline
// and expires them.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new trade expiry sweeper.
func NewTimer(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Timer{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpireStalled(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpireStalled(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in trade expiry sweeper", "panic", fmt.Sprint(r))
		}
	}()
	t.expireStalled(ctx)
}

func (t *Timer) expireStalled(ctx context.Context) {
	stalled, err := t.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired trades", "error", err)
		return
	}

	for _, tr := range stalled {
		_, err := t.service.Expire(ctx, tr.ID)
		if err != nil {
			// Lost the race to a concurrent approval, cancellation, or
			// another sweeper instance. Both are fine.
			if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrInvalidStatus) {
				continue
			}
			t.logger.Warn("failed to expire trade", "trade_id", tr.ID, "error", err)
			continue
		}
		t.logger.Info("expired trade",
			"trade_id", tr.ID,
			"user_id", tr.UserID,
			"asset", tr.Asset,
			"fiat", tr.FiatCurrency,
		)
	}
}
