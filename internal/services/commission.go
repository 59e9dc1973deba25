package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger/internal/config"
	"ledger/internal/models"
	"ledger/internal/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CommissionEvent is a committed monetary event that may pay the user's
// uplines.
type CommissionEvent struct {
	UserID        string
	TransactionID string
	Amount        int64
	Type          models.CommissionType
}

var ErrDispatcherStopped = errors.New("commission dispatcher stopped")

type CommissionEngine struct {
	store     CommissionStore
	levels    map[int]config.CommissionLevel
	maxLevels int
	log       zerolog.Logger
	now       func() time.Time
}

func NewCommissionEngine(store CommissionStore, cfg config.CommissionConfig, log zerolog.Logger) *CommissionEngine {
	levels := make(map[int]config.CommissionLevel, len(cfg.Levels))
	for _, level := range cfg.Levels {
		levels[level.Level] = level
	}
	maxLevels := cfg.MaxLevels
	if maxLevels <= 0 {
		maxLevels = len(cfg.Levels)
	}
	return &CommissionEngine{
		store:     store,
		levels:    levels,
		maxLevels: maxLevels,
		log:       log.With().Str("component", "commission").Logger(),
		now:       time.Now,
	}
}

func (e *CommissionEngine) rate(level int, kind models.CommissionType) decimal.Decimal {
	cfg, ok := e.levels[level]
	if !ok {
		return decimal.Zero
	}
	switch kind {
	case models.CommissionBetRevenue:
		return cfg.BetRevenue
	case models.CommissionWinRevenue:
		return cfg.WinRevenue
	case models.CommissionLossRevenue:
		return cfg.LossRevenue
	}
	return decimal.Zero
}

// OnMonetaryEvent credits every upline of the user up to the configured depth.
// It returns the commissions it created; replays of the same event create
// nothing.
func (e *CommissionEngine) OnMonetaryEvent(ctx context.Context, event CommissionEvent) ([]models.Commission, error) {
	if event.Amount <= 0 {
		return nil, nil
	}
	uplines, err := e.store.ListUplines(ctx, event.UserID, e.maxLevels)
	if err != nil {
		return nil, fmt.Errorf("list uplines: %w", err)
	}

	var created []models.Commission
	var errs []error
	for _, upline := range uplines {
		rate := e.rate(upline.Level, event.Type)
		if !rate.IsPositive() {
			continue
		}
		amount := money.Percent(event.Amount, rate)
		if amount <= 0 {
			continue
		}
		commission := models.Commission{
			ID:                  uuid.NewString(),
			AffiliateID:         upline.AffiliateID,
			ReferredUserID:      event.UserID,
			SourceTransactionID: event.TransactionID,
			Level:               upline.Level,
			CommissionType:      event.Type,
			Rate:                rate.String(),
			BaseAmount:          event.Amount,
			Amount:              amount,
			Status:              models.CommissionApproved,
			CreatedAt:           e.now(),
		}
		inserted, err := e.store.CreateCommission(ctx, commission)
		if err != nil {
			errs = append(errs, fmt.Errorf("level %d commission for %s: %w", upline.Level, upline.AffiliateID, err))
			continue
		}
		if inserted {
			created = append(created, commission)
		}
	}
	return created, errors.Join(errs...)
}

// CommissionDispatcher runs the engine off the request path. Notify never
// blocks; events that do not fit in the queue are logged and dropped.
type CommissionDispatcher struct {
	engine  *CommissionEngine
	queue   chan CommissionEvent
	workers int
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewCommissionDispatcher(engine *CommissionEngine, workers, queueSize int, log zerolog.Logger) *CommissionDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &CommissionDispatcher{
		engine:  engine,
		queue:   make(chan CommissionEvent, queueSize),
		workers: workers,
		timeout: 30 * time.Second,
		log:     log.With().Str("component", "commission_dispatcher").Logger(),
	}
}

func (d *CommissionDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

func (d *CommissionDispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		d.handle(event)
	}
}

func (d *CommissionDispatcher) handle(event CommissionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	created, err := d.engine.OnMonetaryEvent(ctx, event)
	if err != nil {
		d.log.Error().
			Err(err).
			Str("user_id", event.UserID).
			Str("transaction_id", event.TransactionID).
			Str("type", string(event.Type)).
			Msg("commission cascade failed")
	}
	if len(created) > 0 {
		d.log.Debug().
			Str("transaction_id", event.TransactionID).
			Int("commissions", len(created)).
			Msg("commissions credited")
	}
}

func (d *CommissionDispatcher) Notify(event CommissionEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn().Str("transaction_id", event.TransactionID).Err(ErrDispatcherStopped).Msg("commission event dropped")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.log.Warn().
			Str("user_id", event.UserID).
			Str("transaction_id", event.TransactionID).
			Str("type", string(event.Type)).
			Msg("commission queue full; event dropped")
	}
}

// Stop closes the queue and waits for queued events to drain or ctx to end.
func (d *CommissionDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
