package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/astro-dispatch/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Triggerer runs one dispatch pass
type Triggerer interface {
	Trigger(ctx context.Context, target *uuid.UUID) (*TriggerResult, error)
}

// DispatchWorker drains actionable jobs in the background. Workers wake on a
// ticker or a kick and call Trigger until there is nothing left to do.
type DispatchWorker struct {
	dispatcher Triggerer
	workers    int
	interval   time.Duration
	maxBatches int
	kick       chan struct{}
	logger     zerolog.Logger
}

// NewDispatchWorker creates the worker pool; Start runs it
func NewDispatchWorker(dispatcher Triggerer, cfg config.DispatchConfig, logger zerolog.Logger) *DispatchWorker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	maxBatches := cfg.MaxBatchesPerWake
	if maxBatches <= 0 {
		maxBatches = 20
	}
	return &DispatchWorker{
		dispatcher: dispatcher,
		workers:    workers,
		interval:   interval,
		maxBatches: maxBatches,
		kick:       make(chan struct{}, 1),
		logger:     logger.With().Str("component", "dispatch_worker").Logger(),
	}
}

// Kick wakes one idle worker. Kicks issued while one is pending coalesce.
func (w *DispatchWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Start launches the workers and returns a function that stops them and waits
func (w *DispatchWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	w.logger.Info().Int("workers", w.workers).Dur("interval", w.interval).Msg("dispatch worker started")
	return func() {
		cancel()
		wg.Wait()
		w.logger.Info().Msg("dispatch worker stopped")
	}
}

func (w *DispatchWorker) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if id == 0 {
		w.drain(ctx, id)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx, id)
		case <-w.kick:
			w.drain(ctx, id)
		}
	}
}

// drain calls Trigger until no batch was processed or the per-wake limit is hit
func (w *DispatchWorker) drain(ctx context.Context, id int) int {
	batches := 0
	for batches < w.maxBatches {
		if ctx.Err() != nil {
			return batches
		}
		res, err := w.dispatcher.Trigger(ctx, nil)
		if err != nil {
			w.logger.Error().Err(err).Int("worker", id).Msg("dispatch trigger failed")
			return batches
		}
		if !res.Success || res.Message != OutcomeProcessed {
			return batches
		}
		batches++
	}
	if batches == w.maxBatches {
		w.logger.Debug().Int("worker", id).Int("batches", batches).Msg("per-wake batch limit reached")
		w.Kick()
	}
	return batches
}
