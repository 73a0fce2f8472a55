package outbox

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/magotmarket/payment-service/internal/notify"
)

// DispatcherConfig tunes the outbox drain loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	SendTimeout  time.Duration
	MaxAttempts  int
	// BaseBackoff doubles per attempt, capped at MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
}

// claimLease is how long claimed messages stay invisible to other
// dispatchers. It covers a worst-case batch (every send hitting its timeout,
// workers fully busy) plus a poll interval of margin, so an in-flight message
// is never re-claimed and double-sent.
func (c DispatcherConfig) claimLease() time.Duration {
	waves := (c.BatchSize + c.Workers - 1) / c.Workers
	return time.Duration(waves)*c.SendTimeout + c.PollInterval + 30*time.Second
}

// Dispatcher polls the outbox store and delivers claimed messages through the
// notify.Dispatcher.
type Dispatcher struct {
	cfg    DispatcherConfig
	store  Store
	sender notify.Dispatcher
}

// NewDispatcher creates a Dispatcher; zero config fields get defaults.
func NewDispatcher(cfg DispatcherConfig, store Store, sender notify.Dispatcher) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{cfg: cfg, store: store, sender: sender}
}

// Run drains the outbox until the context is cancelled. It always returns
// nil after cancellation so it can be started as a background task.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.drainOnce(ctx); err != nil && ctx.Err() == nil {
				zctx.From(ctx).Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// drainOnce claims one batch and delivers it with bounded concurrency.
func (d *Dispatcher) drainOnce(ctx context.Context) error {
	batch, err := d.store.ClaimBatch(ctx, time.Now(), d.cfg.claimLease(), d.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, msg := range batch {
		g.Go(func() error {
			d.deliver(gctx, msg)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	lg := zctx.From(ctx).With(
		zap.String("message_id", msg.ID),
		zap.String("order_id", msg.OrderID),
	)

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := d.sender.Send(sendCtx, msg.Recipient, msg.Body)
	cancel()

	if err == nil {
		if err := d.store.MarkSent(ctx, msg.ID); err != nil {
			lg.Error("mark sent failed", zap.Error(err))
		}
		return
	}

	attempts := msg.Attempts + 1
	dead := attempts >= d.cfg.MaxAttempts
	next := time.Now().Add(d.backoff(attempts))

	lg.Warn("notification delivery failed",
		zap.Error(err),
		zap.Int("attempts", attempts),
		zap.Bool("dead", dead),
	)
	if err := d.store.MarkFailed(ctx, msg.ID, next, dead); err != nil {
		lg.Error("mark failed failed", zap.Error(err))
	}
}

// backoff returns BaseBackoff * 2^(attempts-1) capped at MaxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		b *= 2
		if b >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return b
}
