package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/config"
	"github.com/dteedee/medix/services/scheduling-service/internal/booking"
	"github.com/dteedee/medix/services/scheduling-service/internal/lifecycle"
)

type settings struct {
	Service  string
	LogLevel string
	Port     string
	GRPCPort string

	Store       string
	DatabaseURL string
	DBMaxConns  int
	RedisURL    string
	Kafka       string

	StripeSecretKey     string
	StripeWebhookSecret string
	JWTSecret           string

	Location          *time.Location
	ReconcileInterval time.Duration
	RefundInterval    time.Duration
	SlotCacheTTL      time.Duration
	RateLimitPerMin   int

	Refunds lifecycle.RefundPolicy
	Booking booking.Config
}

func loadSettings() (settings, error) {
	var (
		s   settings
		err error
	)
	s.Service = config.String("SERVICE_NAME", "scheduling-service")
	s.LogLevel = config.String("LOG_LEVEL", "info")
	if s.Port, err = config.Port("PORT", "8085"); err != nil {
		return s, err
	}
	if s.GRPCPort, err = config.Port("GRPC_PORT", "9095"); err != nil {
		return s, err
	}

	s.Store = strings.ToLower(config.String("STORE", "postgres"))
	switch s.Store {
	case "postgres":
		if s.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return s, err
		}
	case "memory":
	default:
		return s, fmt.Errorf("STORE must be postgres or memory (got %q)", s.Store)
	}
	if s.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return s, err
	}
	s.RedisURL = config.String("REDIS_URL", "")
	s.Kafka = config.String("KAFKA_BROKERS", "")
	s.StripeSecretKey = config.String("STRIPE_SECRET_KEY", "")
	s.StripeWebhookSecret = config.String("STRIPE_WEBHOOK_SECRET", "")
	s.JWTSecret = config.String("JWT_SECRET", "")

	tz := config.String("CLINIC_TIMEZONE", "UTC")
	if s.Location, err = time.LoadLocation(tz); err != nil {
		return s, fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	if s.ReconcileInterval, err = config.Duration("RECONCILE_INTERVAL", 15*time.Minute); err != nil {
		return s, err
	}
	if s.RefundInterval, err = config.Duration("REFUND_WORKER_INTERVAL", 30*time.Second); err != nil {
		return s, err
	}
	if s.SlotCacheTTL, err = config.Duration("SLOT_CACHE_TTL", time.Minute); err != nil {
		return s, err
	}
	if s.RateLimitPerMin, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return s, err
	}

	if s.Refunds.PatientFraction, err = config.Float("REFUND_PATIENT_FRACTION", 0.8, 0, 1); err != nil {
		return s, err
	}
	if s.Refunds.PatientLateFraction, err = config.Float("REFUND_PATIENT_LATE_FRACTION", 0, 0, 1); err != nil {
		return s, err
	}
	if s.Refunds.StaffFraction, err = config.Float("REFUND_STAFF_FRACTION", 1, 0, 1); err != nil {
		return s, err
	}
	if s.Refunds.MinLeadTime, err = config.Duration("REFUND_MIN_LEAD_TIME", 24*time.Hour); err != nil {
		return s, err
	}

	if s.Booking.LockTimeout, err = config.Duration("BOOKING_LOCK_TIMEOUT", 2*time.Second); err != nil {
		return s, err
	}
	if s.Booking.MaxAttempts, err = config.Int("BOOKING_MAX_ATTEMPTS", 3); err != nil {
		return s, err
	}
	s.Booking.EnforceAvailability = config.Bool("ENFORCE_AVAILABILITY", true)
	return s, nil
}
