package refunds

import (
	"context"
	"log/slog"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/model"
)

type Source interface {
	ListRefundsToIssue(ctx context.Context, limit int) ([]model.Appointment, error)
}

// Settler records refund progress on the appointment. Implemented by
// lifecycle.Manager.
type Settler interface {
	RecordRefundIssued(ctx context.Context, id, refundRef string) (model.Appointment, error)
	SettleRefund(ctx context.Context, id string, succeeded bool, refundRef string) (model.Appointment, error)
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

type Worker struct {
	source   Source
	settler  Settler
	refunder Refunder
	logger   *slog.Logger
	cfg      WorkerConfig
}

func NewWorker(source Source, settler Settler, refunder Refunder, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Worker{source: source, settler: settler, refunder: refunder, logger: logger, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("refund worker started", "interval", w.cfg.Interval.String())
	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce issues one batch of pending refunds and returns how many the provider
// accepted. Failures are logged; the appointment stays pending for the next tick.
func (w *Worker) RunOnce(ctx context.Context) int {
	pending, err := w.source.ListRefundsToIssue(ctx, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("refund worker: list pending refunds", "err", err)
		}
		return 0
	}

	issued := 0
	for _, a := range pending {
		if ctx.Err() != nil {
			return issued
		}
		res, err := w.refunder.IssueRefund(ctx, Request{
			AppointmentID:    a.ID,
			PaymentReference: a.PaymentReference,
			Amount:           a.RefundAmount,
			Currency:         a.Currency,
		})
		if err != nil {
			w.logger.Error("refund worker: issue refund", "appointment_id", a.ID, "amount", a.RefundAmount, "err", err)
			continue
		}
		issued++
		if _, err := w.settler.RecordRefundIssued(ctx, a.ID, res.Reference); err != nil {
			w.logger.Error("refund worker: record refund reference", "appointment_id", a.ID, "refund_reference", res.Reference, "err", err)
			continue
		}
		if res.Status == StatusPending {
			continue
		}
		if _, err := w.settler.SettleRefund(ctx, a.ID, res.Status == StatusSucceeded, res.Reference); err != nil {
			w.logger.Error("refund worker: settle refund", "appointment_id", a.ID, "err", err)
		}
	}
	return issued
}
