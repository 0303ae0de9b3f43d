// Package reconcile expires date-scoped availability overrides once their date
// has passed.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dteedee/medix/libs/clock"
	otelx "github.com/dteedee/medix/libs/otel"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Expirer is the slice of storage.Store the sweep needs.
type Expirer interface {
	ExpireOverrides(ctx context.Context, today, now time.Time) (int64, error)
}

type Reconciler struct {
	store    Expirer
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
	loc      *time.Location
	tracer   trace.Tracer
}

// NewReconciler sweeps against the calendar of loc, the clinic timezone that
// override dates refer to. A nil loc means UTC.
func NewReconciler(store Expirer, clk clock.Clock, loc *time.Location, logger *slog.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{
		loc:      loc,
		store:    store,
		clock:    clk,
		logger:   logger,
		interval: interval,
		tracer:   otelx.Tracer("scheduling-service/reconcile"),
	}
}

// Sweep flips every still-available override dated before the clinic's today to
// unavailable and returns how many rows changed. A second sweep without a date
// change touches nothing.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Sweep")
	defer span.End()

	now := r.clock.Now()
	today := clock.DateIn(now, r.loc)
	n, err := r.store.ExpireOverrides(ctx, today, now)
	if err != nil {
		if !errors.Is(err, storage.ErrLockHeld) {
			otelx.RecordError(span, err)
		}
		return 0, err
	}
	span.SetAttributes(attribute.Int64("expired", n), attribute.String("today", today.Format(time.DateOnly)))
	return n, nil
}

// Run sweeps once immediately, then every interval until ctx is cancelled.
// Failed sweeps are logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("override reconciliation started", "interval", r.interval.String())
	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	n, err := r.Sweep(ctx)
	switch {
	case errors.Is(err, storage.ErrLockHeld):
		r.logger.Info("override reconciliation skipped: another instance holds the sweep lock")
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("override reconciliation failed", "err", err)
	case n > 0:
		r.logger.Info("expired schedule overrides", "count", n)
	default:
		r.logger.Debug("no schedule overrides to expire")
	}
}
