// Package refunds hands pending cancellation refunds to the payment provider.
package refunds

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/refund"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Request struct {
	AppointmentID    string
	PaymentReference string
	Amount           int64
	Currency         string
}

type Result struct {
	Reference string
	Status    Status
}

// Refunder is the payment collaborator's refund side.
type Refunder interface {
	IssueRefund(ctx context.Context, req Request) (Result, error)
}

// StripeRefunder refunds a PaymentIntent ("pi_...") or a Charge ("ch_...").
type StripeRefunder struct{}

// NewStripeRefunder sets the process-wide Stripe key.
func NewStripeRefunder(secretKey string) (*StripeRefunder, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = key
	return &StripeRefunder{}, nil
}

func (s *StripeRefunder) IssueRefund(ctx context.Context, req Request) (Result, error) {
	params := &stripe.RefundParams{
		Amount: stripe.Int64(req.Amount),
		Reason: stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	ref := strings.TrimSpace(req.PaymentReference)
	if strings.HasPrefix(ref, "ch_") {
		params.Charge = stripe.String(ref)
	} else {
		params.PaymentIntent = stripe.String(ref)
	}
	params.AddMetadata("appointment_id", req.AppointmentID)
	// One refund per appointment, even if the worker retries after a crash.
	params.SetIdempotencyKey("appointment-refund-" + req.AppointmentID)

	r, err := refund.New(params)
	if err != nil {
		return Result{}, err
	}
	return Result{Reference: r.ID, Status: statusOf(r.Status)}, nil
}

func statusOf(s stripe.RefundStatus) Status {
	switch s {
	case stripe.RefundStatusSucceeded:
		return StatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return StatusFailed
	}
	return StatusPending
}

// StatusOf maps a Stripe refund status to a Status. Used by the webhook.
func StatusOf(s stripe.RefundStatus) Status { return statusOf(s) }
