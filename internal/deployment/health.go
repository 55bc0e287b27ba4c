package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HealthPolicy bounds the readiness probe.
type HealthPolicy struct {
	MaxRetries   int
	RetryDelay   time.Duration
	InitialDelay time.Duration
}

// DefaultHealthPolicy waits 15s, then probes up to 5 times 10s apart.
var DefaultHealthPolicy = HealthPolicy{
	MaxRetries:   5,
	RetryDelay:   10 * time.Second,
	InitialDelay: 15 * time.Second,
}

// HealthProbe polls a readiness endpoint with a fixed linear backoff.
type HealthProbe struct {
	prober Prober
	policy HealthPolicy
	sleep  SleepFunc
	logger *slog.Logger
}

// NewHealthProbe creates a probe. A nil sleep uses Sleep.
func NewHealthProbe(prober Prober, policy HealthPolicy, sleep SleepFunc, logger *slog.Logger) *HealthProbe {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultHealthPolicy.MaxRetries
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &HealthProbe{prober: prober, policy: policy, sleep: sleep, logger: logger}
}

// Check sleeps InitialDelay once, then probes url up to MaxRetries times,
// sleeping RetryDelay between failed attempts. The first healthy response wins.
func (h *HealthProbe) Check(ctx context.Context, url string) StepOutcome {
	start := time.Now()
	outcome := h.check(ctx, url)
	outcome.Duration = time.Since(start)
	return outcome
}

func (h *HealthProbe) check(ctx context.Context, url string) StepOutcome {
	logger := h.logger.With("url", url)

	logger.Info("Waiting before first health probe", "delay", h.policy.InitialDelay)
	if err := h.sleep(ctx, h.policy.InitialDelay); err != nil {
		return Failure(StepHealthCheck, ErrHealthCheckExhausted, err)
	}

	var lastErr error
	for attempt := 1; attempt <= h.policy.MaxRetries; attempt++ {
		lastErr = h.prober.Probe(ctx, url)
		if lastErr == nil {
			logger.Info("Health check passed", "attempt", attempt)
			outcome := Success(StepHealthCheck)
			outcome.Attempts = attempt
			return outcome
		}

		logger.Warn("Health probe failed", "attempt", attempt, "max_retries", h.policy.MaxRetries, "error", lastErr)
		if attempt == h.policy.MaxRetries {
			break
		}
		if err := h.sleep(ctx, h.policy.RetryDelay); err != nil {
			outcome := Failure(StepHealthCheck, ErrHealthCheckExhausted, err)
			outcome.Attempts = attempt
			return outcome
		}
	}

	outcome := Failure(StepHealthCheck, ErrHealthCheckExhausted,
		fmt.Errorf("%d attempts, last error: %w", h.policy.MaxRetries, lastErr))
	outcome.Attempts = h.policy.MaxRetries
	return outcome
}
