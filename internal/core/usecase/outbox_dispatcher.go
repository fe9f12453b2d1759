package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
	"github.com/atvirokodosprendimai/useraudit/internal/core/ports"
)

const defaultOutboxMaxAttempts = 5

// OutboxRelay drains outbox rows written alongside user changes and hands
// each decoded event to the dispatcher. Delivery is at least once; the audit
// subscriber keys records by event id so replays collapse.
type OutboxRelay struct {
	repo        ports.OutboxRepository
	dispatcher  ports.EventDispatcher
	codec       *EventCodec
	logger      *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

type OutboxRelayMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

type OutboxRelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func NewOutboxRelay(repo ports.OutboxRepository, dispatcher ports.EventDispatcher, codec *EventCodec, logger *zap.Logger, cfg OutboxRelayConfig) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultOutboxMaxAttempts
	}
	if codec == nil {
		codec = NewEventCodec()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxRelay{
		repo:        repo,
		dispatcher:  dispatcher,
		codec:       codec,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (d *OutboxRelay) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

// Run blocks until ctx is done. It is the errgroup-friendly form of Start.
func (d *OutboxRelay) Run(ctx context.Context) error {
	d.Start(ctx)
	<-ctx.Done()
	return d.Close()
}

func (d *OutboxRelay) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxRelay) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *OutboxRelay) dispatchBatch(ctx context.Context) error {
	rows, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, row := range rows {
		event, err := d.codec.DecodeJSON(row.PayloadJSON)
		if err != nil {
			if markErr := d.markFailure(ctx, row, err.Error()); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}

		if err := d.dispatcher.DispatchEvent(ctx, event); err != nil {
			if markErr := d.markFailure(ctx, row, err.Error()); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}

		if err := d.repo.MarkDispatched(ctx, row.ID); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
	}

	return nil
}

func (d *OutboxRelay) markFailure(ctx context.Context, row domain.OutboxEvent, errMsg string) error {
	attempts := row.Attempts + 1
	if attempts >= d.maxAttempts {
		if err := d.repo.MarkDead(ctx, row.ID, attempts, errMsg); err != nil {
			return err
		}
		d.dispatchDeadTotal.Add(1)
		d.logger.Warn("outbox event moved to dead letter",
			zap.String("event_id", row.EventID),
			zap.Int("attempts", attempts),
			zap.String("error", errMsg),
		)
		return nil
	}
	next := time.Now().UTC().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	return d.repo.MarkFailed(ctx, row.ID, attempts, next, errMsg)
}

func (d *OutboxRelay) Metrics() OutboxRelayMetrics {
	return OutboxRelayMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
