package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("сервис недоступен")

func identityJitter(d time.Duration) time.Duration { return d }

func TestRetryPolicySucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      identityJitter,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errUpstream
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Экспоненциальный рост задержки между попытками
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Jitter:      identityJitter,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errUpstream
	})

	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyDelayCappedAtMax(t *testing.T) {
	var slept []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		Jitter:      identityJitter,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	_ = policy.Do(context.Background(), func() error { return errUpstream })

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
	}, slept)
}

func TestRetryPolicyStopsOnNonRetryableError(t *testing.T) {
	domainErr := errors.New("недостаточно товара")
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Jitter:      identityJitter,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		ShouldRetry: func(err error) bool { return !errors.Is(err, domainErr) },
	}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return domainErr
	})

	assert.ErrorIs(t, err, domainErr)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Jitter:      identityJitter,
	}

	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return errUpstream
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		CoolDown:         time.Second,
		Now:              func() time.Time { return now },
	})

	for i := 0; i < 3; i++ {
		err := breaker.Execute(func() error { return errUpstream })
		assert.ErrorIs(t, err, errUpstream)
	}

	// Порог достигнут, вызовы отклоняются без обращения к назначению
	calls := 0
	err := breaker.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestCircuitBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Second,
		Now:              func() time.Time { return now },
	})

	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)
	assert.ErrorIs(t, breaker.Execute(func() error { return nil }), ErrCircuitOpen)

	// После охлаждения пропускается пробный вызов, успех закрывает breaker
	now = now.Add(time.Second)
	assert.NoError(t, breaker.Execute(func() error { return nil }))
	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestCircuitBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Second,
		Now:              func() time.Time { return now },
	})

	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)

	// Неудачный пробный вызов открывает breaker заново на полный период охлаждения
	now = now.Add(time.Second)
	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)

	now = now.Add(500 * time.Millisecond)
	assert.ErrorIs(t, breaker.Execute(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(500 * time.Millisecond)
	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestCircuitBreakerIgnoresSuccessOfCallStartedBeforeOpen(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		CoolDown:         time.Minute,
		Now:              func() time.Time { return now },
	})

	entered := make(chan struct{})
	release := make(chan error)
	done := make(chan error)
	go func() {
		done <- breaker.Execute(func() error {
			close(entered)
			return <-release
		})
	}()
	<-entered

	// Пока вызов в полете, серия отказов открывает breaker
	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)
	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)
	assert.ErrorIs(t, breaker.Execute(func() error { return nil }), ErrCircuitOpen)

	// Успех вызова, допущенного до открытия, не закрывает breaker
	release <- nil
	assert.NoError(t, <-done)

	calls := 0
	err := breaker.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)

	// Охлаждение выдерживается полностью, затем пробный вызов закрывает breaker
	now = now.Add(time.Minute)
	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestCircuitBreakerIgnoresFailureOfCallStartedBeforeOpen(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Minute,
		Now:              func() time.Time { return now },
	})

	entered := make(chan struct{})
	release := make(chan error)
	done := make(chan error)
	go func() {
		done <- breaker.Execute(func() error {
			close(entered)
			return <-release
		})
	}()
	<-entered

	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)

	// Запоздавший отказ не сдвигает начало охлаждения
	now = now.Add(30 * time.Second)
	release <- errUpstream
	assert.ErrorIs(t, <-done, errUpstream)

	now = now.Add(30 * time.Second)
	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestCircuitBreakerProbeFailureRestartsCoolDownFromCompletion(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Minute,
		Now:              func() time.Time { return now },
	})

	assert.ErrorIs(t, breaker.Execute(func() error { return errUpstream }), errUpstream)
	now = now.Add(time.Minute)

	// Пробный вызов длится 30 секунд и завершается отказом
	err := breaker.Execute(func() error {
		now = now.Add(30 * time.Second)
		return errUpstream
	})
	assert.ErrorIs(t, err, errUpstream)

	// Охлаждение отсчитывается от завершения пробного вызова, не от его начала
	now = now.Add(59 * time.Second)
	assert.ErrorIs(t, breaker.Execute(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(time.Second)
	assert.NoError(t, breaker.Execute(func() error { return nil }))
}

func TestDefaultJitterKeepsScheduleStrictlyIncreasing(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		first := defaultJitter(base)
		second := defaultJitter(2 * base)
		assert.GreaterOrEqual(t, first, base)
		assert.LessOrEqual(t, first, base*3/2)
		assert.Greater(t, second, first)
	}
}

func TestCallerDoesNotRetryCircuitOpen(t *testing.T) {
	now := time.Now()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Minute,
		Now:              func() time.Time { return now },
	})
	// Открываем breaker
	_ = breaker.Execute(func() error { return errUpstream })

	caller := NewCaller("test", breaker, RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Jitter:      identityJitter,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		ShouldRetry: func(err error) bool { return !errors.Is(err, ErrCircuitOpen) },
	}, nil)

	calls := 0
	err := caller.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestCallerRetriesThroughBreaker(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 10, CoolDown: time.Minute})
	caller := NewCaller("test", breaker, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Jitter:      identityJitter,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}, nil)

	calls := 0
	err := caller.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errUpstream
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
