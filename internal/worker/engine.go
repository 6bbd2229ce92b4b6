package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/assistant-queue/internal/apperr"
	"github.com/vnmchuo/assistant-queue/internal/metrics"
)

// DispatchFunc executes one leased item. A nil error deletes the item; any
// error marks it FAILED.
type DispatchFunc func(ctx context.Context, item *WorkItem) error

// Ratio weights the two classes when both have pending work.
type Ratio struct {
	General int
	Premium int
}

type EngineConfig struct {
	Workers      int
	Batch        int
	Ratio        Ratio
	PollInterval time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:      50,
		Batch:        100,
		Ratio:        Ratio{General: 1, Premium: 2},
		PollInterval: time.Second,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Batch <= 0 {
		c.Batch = d.Batch
	}
	if c.Ratio.General <= 0 || c.Ratio.Premium <= 0 {
		c.Ratio = d.Ratio
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Engine leases batches from the Store into a bounded channel and runs them
// on a fixed pool of workers.
//
// Items leased but unfinished when the engine stops stay PROCESSING. Nothing
// reverts them to PENDING; operators requeue them by hand.
type Engine struct {
	store    Store
	dispatch DispatchFunc
	cfg      EngineConfig
	queue    chan *WorkItem
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	// counter rotates over sum(ratio) slots; only the feeder goroutine touches it.
	counter int
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(store Store, dispatch DispatchFunc, cfg EngineConfig, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		store:    store,
		dispatch: dispatch,
		cfg:      cfg,
		// Twice the batch: a lease only starts below one batch of backlog, so
		// pushing a full batch never blocks.
		queue:  make(chan *WorkItem, cfg.Batch*2),
		logger: zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer("worker"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("worker")
	return e
}

// Enqueue stores a new PENDING item and returns its id.
func (e *Engine) Enqueue(ctx context.Context, ownerID string, payload any, priority Priority) (string, error) {
	id := uuid.NewString()
	if err := e.EnqueueAs(ctx, id, ownerID, payload, priority); err != nil {
		return "", err
	}
	return id, nil
}

// EnqueueAs is Enqueue with a caller-chosen id. Stream clients need it to
// subscribe to the result channel before any worker can see the item.
func (e *Engine) EnqueueAs(ctx context.Context, id, ownerID string, payload any, priority Priority) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	item := &WorkItem{
		ID:       id,
		OwnerID:  ownerID,
		Priority: priority,
		Payload:  raw,
	}
	if err := e.store.Enqueue(ctx, item); err != nil {
		return err
	}
	e.logger.Debug("enqueued", zap.String("request_id", item.ID), zap.String("priority", string(priority)))
	return nil
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	return e.store.Stats(ctx)
}

// Run starts the feeder and the workers and blocks until ctx is cancelled
// and every goroutine has returned.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting queue engine",
		zap.Int("workers", e.cfg.Workers),
		zap.Int("batch", e.cfg.Batch),
		zap.Int("ratio_general", e.cfg.Ratio.General),
		zap.Int("ratio_premium", e.cfg.Ratio.Premium),
	)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(wid int) {
			defer wg.Done()
			e.work(ctx, wid)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.feed(ctx)
	}()

	wg.Wait()
	e.logger.Info("queue engine stopped")
	return nil
}

func (e *Engine) feed(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.FeedOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("feeder tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FeedOnce runs a single feeder tick and returns the number of items pushed.
func (e *Engine) FeedOnce(ctx context.Context) (int, error) {
	if len(e.queue) >= e.cfg.Batch {
		return 0, nil
	}

	counts, err := e.store.CountPending(ctx)
	if err != nil {
		return 0, err
	}

	priority, ok := e.selectPriority(counts)
	if !ok {
		return 0, nil
	}
	size := min(e.cfg.Batch, counts.Of(priority))

	items, err := e.store.Lease(ctx, priority, size)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	e.logger.Info("leased batch",
		zap.Int("general_pending", counts.General),
		zap.Int("premium_pending", counts.Premium),
		zap.String("selected", string(priority)),
		zap.Int("leased", len(items)),
	)
	if e.metrics != nil {
		e.metrics.QueueLeased.WithLabelValues(string(priority)).Add(float64(len(items)))
	}

	for i, it := range items {
		select {
		case e.queue <- it:
		case <-ctx.Done():
			return i, ctx.Err()
		}
	}
	e.observeDepth()
	return len(items), nil
}

// selectPriority picks the class to lease from. When both classes have work
// the counter advances over sum(ratio) slots and the first Ratio.General
// slots go to GENERAL.
func (e *Engine) selectPriority(c PendingCounts) (Priority, bool) {
	switch {
	case c.General == 0 && c.Premium == 0:
		return "", false
	case c.Premium == 0:
		return PriorityGeneral, true
	case c.General == 0:
		return PriorityPremium, true
	}

	e.counter = (e.counter + 1) % (e.cfg.Ratio.General + e.cfg.Ratio.Premium)
	if e.counter < e.cfg.Ratio.General {
		return PriorityGeneral, true
	}
	return PriorityPremium, true
}

func (e *Engine) work(ctx context.Context, wid int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-e.queue:
			e.observeDepth()
			e.process(ctx, wid, item)
		}
	}
}

func (e *Engine) process(ctx context.Context, wid int, item *WorkItem) {
	log := e.logger.With(zap.Int("worker", wid), zap.String("request_id", item.ID))
	log.Info("processing", zap.String("priority", string(item.Priority)))

	ctx, span := e.tracer.Start(ctx, "worker.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", item.ID),
		attribute.String("priority", string(item.Priority)),
	)

	start := time.Now()
	err := e.safeDispatch(ctx, item)
	if e.metrics != nil {
		e.metrics.QueueProcessDuration.Observe(time.Since(start).Seconds())
	}

	// Cut off by shutdown: leave the row PROCESSING, see Engine.
	if err != nil && apperr.Interrupted(ctx, err) {
		log.Warn("request abandoned at shutdown", zap.Error(err))
		if e.metrics != nil {
			e.metrics.QueueProcessed.WithLabelValues("abandoned").Inc()
		}
		return
	}

	// The terminal write must land even when shutdown cancelled ctx mid-item.
	storeCtx := context.WithoutCancel(ctx)

	if err == nil {
		if cerr := e.store.Complete(storeCtx, item.ID); cerr != nil {
			log.Error("failed to complete request", zap.Error(cerr))
		}
		if e.metrics != nil {
			e.metrics.QueueProcessed.WithLabelValues("completed").Inc()
		}
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	desc := apperr.Describe(err)
	log.Error("request failed", zap.String("error", desc))
	if ferr := e.store.Fail(storeCtx, item.ID, desc); ferr != nil {
		log.Error("failed to mark request failed", zap.Error(ferr))
	}
	if e.metrics != nil {
		e.metrics.QueueProcessed.WithLabelValues("failed").Inc()
	}
}

func (e *Engine) safeDispatch(ctx context.Context, item *WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("dispatch panicked",
				zap.String("request_id", item.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.dispatch(ctx, item)
}

func (e *Engine) observeDepth() {
	if e.metrics != nil {
		e.metrics.QueueLocalDepth.Set(float64(len(e.queue)))
	}
}
