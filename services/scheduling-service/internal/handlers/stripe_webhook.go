package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/httpx"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/refunds"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const metadataAppointmentID = "appointment_id"

// StripeWebhook applies payment confirmations and refund outcomes. The signature
// is the authentication. Replays are harmless because MarkPaid and SettleRefund
// ignore repeats.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeWebhookSecret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "not_configured", "stripe webhook not configured")
		return
	}
	sigHeader := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if sigHeader == "" {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "missing Stripe-Signature header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_signature", "invalid signature")
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	switch evtType {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		id := strings.TrimSpace(pi.Metadata[metadataAppointmentID])
		if id == "" {
			h.logger.Warn("stripe: payment intent without appointment_id metadata", "payment_intent", pi.ID)
			break
		}
		if _, err := h.lifecycle.MarkPaid(r.Context(), id, pi.ID); err != nil {
			if h.webhookFailed(w, id, err) {
				return
			}
		}

	case "refund.created", "refund.updated", "charge.refund.updated":
		var rf stripe.Refund
		if err := json.Unmarshal(evt.Data.Raw, &rf); err != nil {
			h.logger.Error("stripe: invalid refund payload", "err", err)
			break
		}
		id := strings.TrimSpace(rf.Metadata[metadataAppointmentID])
		if id == "" {
			h.logger.Warn("stripe: refund without appointment_id metadata", "refund", rf.ID)
			break
		}
		switch refunds.StatusOf(rf.Status) {
		case refunds.StatusSucceeded:
			_, err = h.lifecycle.SettleRefund(r.Context(), id, true, rf.ID)
		case refunds.StatusFailed:
			_, err = h.lifecycle.SettleRefund(r.Context(), id, false, rf.ID)
		default:
			_, err = h.lifecycle.RecordRefundIssued(r.Context(), id, rf.ID)
		}
		if err != nil && h.webhookFailed(w, id, err) {
			return
		}

	default:
		// Other event types are acknowledged and ignored.
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// webhookFailed reports whether the error should make Stripe redeliver. Unknown
// appointments are acknowledged so the provider stops retrying.
func (h *Handler) webhookFailed(w http.ResponseWriter, appointmentID string, err error) bool {
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation) {
		h.logger.Warn("stripe: event for unknown appointment ignored", "appointment_id", appointmentID, "err", err)
		return false
	}
	h.logger.Error("stripe: failed to apply event", "appointment_id", appointmentID, "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to apply event")
	return true
}
