package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/metrics"
)

const refreshTimeout = 10 * time.Second

var errQueueFull = errors.New("stats refresh queue full")

// StatsRebuilder is the part of the referral service the refresher drives
type StatsRebuilder interface {
	RebuildStats(ctx context.Context, userID int64) (*domain.ReferralStats, error)
}

// StatsRefresher rebuilds stats on a background goroutine. Refresh never
// blocks: duplicate requests for a queued user collapse and a full queue
// drops the request. Failures are logged and counted, never returned.
type StatsRefresher struct {
	queue   chan int64
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[int64]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewStatsRefresher(size int, logger *zap.Logger, m *metrics.Metrics) *StatsRefresher {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsRefresher{
		queue:   make(chan int64, size),
		logger:  logger,
		metrics: m,
		pending: make(map[int64]struct{}),
	}
}

// Start launches the worker. Call it once.
func (r *StatsRefresher) Start(rebuilder StatsRebuilder) {
	r.wg.Add(1)
	go r.run(rebuilder)
}

func (r *StatsRefresher) Refresh(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, queued := r.pending[userID]; queued {
		return
	}
	select {
	case r.queue <- userID:
		r.pending[userID] = struct{}{}
	default:
		r.logger.Warn("stats refresh queue full, dropping", zap.Int64("user_id", userID))
		r.metrics.ObserveStatsRefresh(errQueueFull)
	}
}

// Close stops accepting work, drains the queue and waits for the worker
func (r *StatsRefresher) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *StatsRefresher) run(rebuilder StatsRebuilder) {
	defer r.wg.Done()
	for userID := range r.queue {
		r.mu.Lock()
		delete(r.pending, userID)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		_, err := rebuilder.RebuildStats(ctx, userID)
		cancel()

		r.metrics.ObserveStatsRefresh(err)
		if err != nil {
			r.logger.Warn("stats refresh failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}
