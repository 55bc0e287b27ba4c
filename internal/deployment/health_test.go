package deployment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthProbe_ExactlyMaxRetries(t *testing.T) {
	prober := &fakeProber{results: []error{errors.New("connection refused")}}
	sleeper := &sleepRecorder{}
	probe := NewHealthProbe(prober, HealthPolicy{MaxRetries: 5, RetryDelay: 10 * time.Second, InitialDelay: 15 * time.Second}, sleeper.Sleep, testLogger())

	outcome := probe.Check(context.Background(), "https://staging.example.com/api/v1/docs")
	if outcome.OK() {
		t.Fatal("Check() should fail when the endpoint never succeeds")
	}
	if !errors.Is(outcome.Err, ErrHealthCheckExhausted) {
		t.Errorf("Check() error = %v, want ErrHealthCheckExhausted", outcome.Err)
	}
	if prober.calls != 5 {
		t.Errorf("probe attempts = %d, want exactly 5", prober.calls)
	}
	if outcome.Attempts != 5 {
		t.Errorf("outcome.Attempts = %d, want 5", outcome.Attempts)
	}

	want := []time.Duration{15 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}
	if len(sleeper.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeper.sleeps, want)
	}
	for i := range want {
		if sleeper.sleeps[i] != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, sleeper.sleeps[i], want[i])
		}
	}
}

func TestHealthProbe_Attempts(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name         string
		results      []error
		wantOK       bool
		wantAttempts int
		wantSleeps   int
	}{
		{"first attempt", []error{nil}, true, 1, 1},
		{"third attempt", []error{refused, refused, nil}, true, 3, 3},
		{"last attempt", []error{refused, refused, refused, refused, nil}, true, 5, 5},
		{"never", []error{refused}, false, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{results: tt.results}
			sleeper := &sleepRecorder{}
			outcome := NewHealthProbe(prober, DefaultHealthPolicy, sleeper.Sleep, testLogger()).Check(context.Background(), "http://localhost/health")

			if outcome.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v", outcome.OK(), tt.wantOK)
			}
			if outcome.Attempts != tt.wantAttempts || prober.calls != tt.wantAttempts {
				t.Errorf("attempts = %d (outcome %d), want %d", prober.calls, outcome.Attempts, tt.wantAttempts)
			}
			if len(sleeper.sleeps) != tt.wantSleeps {
				t.Errorf("sleeps = %d, want %d", len(sleeper.sleeps), tt.wantSleeps)
			}
		})
	}
}

func TestHealthProbe_Cancelled(t *testing.T) {
	prober := &fakeProber{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := NewHealthProbe(prober, DefaultHealthPolicy, (&sleepRecorder{}).Sleep, testLogger()).Check(ctx, "http://localhost/health")
	if outcome.OK() || !errors.Is(outcome.Err, context.Canceled) {
		t.Errorf("Check() error = %v, want context.Canceled", outcome.Err)
	}
	if prober.calls != 0 {
		t.Errorf("no probes should run after cancellation, got %d", prober.calls)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancellation")
	}
}
