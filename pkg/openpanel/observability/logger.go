// Package observability provides structured logging helpers, metrics and
// tracing for the dispatch engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// Drop reasons reported to logs and metrics.
const (
	ReasonDisabled       = "disabled"
	ReasonFiltered       = "filtered"
	ReasonNotInitialized = "not_initialized"
	ReasonClosed         = "closed"
)

// EnrichLogger adds event context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "track", envelopeID)
//	enriched.Debug("sending") // includes event_type, envelope_id
func EnrichLogger(logger *slog.Logger, eventType, envelopeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_type", eventType),
		slog.String("envelope_id", envelopeID),
	)
}

// LogQueued logs an event parked until a profile is known.
func LogQueued(logger *slog.Logger, eventType string, pending int) {
	if logger == nil {
		return
	}
	logger.Debug("event queued until profile is set",
		slog.String("event_type", eventType),
		slog.Int("pending", pending),
	)
}

// LogDrained logs a holding-queue replay.
func LogDrained(logger *slog.Logger, count int, profileID string) {
	if logger == nil {
		return
	}
	logger.Debug("replaying queued events",
		slog.Int("count", count),
		slog.String("profile_id", profileID),
	)
}

// LogDropped logs an event discarded before sending.
func LogDropped(logger *slog.Logger, eventType, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("event dropped",
		slog.String("event_type", eventType),
		slog.String("reason", reason),
	)
}

// LogDelivered logs a successful send.
func LogDelivered(logger *slog.Logger, eventType, envelopeID string, attempts int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event delivered",
		slog.String("event_type", eventType),
		slog.String("envelope_id", envelopeID),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryError logs a terminal delivery failure.
func LogDeliveryError(logger *slog.Logger, eventType, envelopeID string, attempts, status int, err error) {
	if logger == nil {
		return
	}
	logger.Error("event delivery failed",
		slog.String("event_type", eventType),
		slog.String("envelope_id", envelopeID),
		slog.Int("attempts", attempts),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}

// LogRetry logs a transport failure that will be retried after backoff.
func LogRetry(logger *slog.Logger, attempt int, backoff time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("openpanel send failed, retrying",
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)
}

// LogConfigurationError logs a rejected configuration.
func LogConfigurationError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("openpanel configuration rejected",
		slog.String("error", err.Error()),
	)
}

// LogDeadLetterError logs a failure to record a dead letter (non-fatal).
func LogDeadLetterError(logger *slog.Logger, eventType, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("dead letter store failed",
		slog.String("event_type", eventType),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
