package resilience

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"
)

// ErrCircuitOpen означает, что circuit breaker открыт и вызовы к назначению
// отклоняются без обращения к нему
var ErrCircuitOpen = errors.New("circuit breaker открыт")

// RetryPolicy определяет политику повторов для исходящих вызовов
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
	ShouldRetry func(error) bool
}

// Do выполняет функцию с повторами согласно политике. Задержка удваивается
// с каждой попыткой, к ней применяется jitter. Ожидание прерывается контекстом.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded) &&
				!errors.Is(err, ErrCircuitOpen)
		}
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			return err
		}

		delay := p.BaseDelay
		if delay > 0 {
			delay = delay << (attempt - 1)
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delay = jitter(delay)
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// CircuitBreakerConfig настраивает circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
	Now              func() time.Time
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker отсекает вызовы к назначению после серии отказов.
// В открытом состоянии вызовы завершаются сразу, после периода охлаждения
// пропускается ровно один пробный вызов.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	coolDown  time.Duration
	now       func() time.Time

	state          breakerState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

// NewCircuitBreaker создает circuit breaker с разумными значениями по умолчанию
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	coolDown := cfg.CoolDown
	if coolDown <= 0 {
		coolDown = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		threshold: threshold,
		coolDown:  coolDown,
		now:       now,
		state:     breakerClosed,
	}
}

// Execute выполняет функцию с учетом состояния breaker'а. Блокировка
// защищает только учет отказов, сам вызов выполняется вне ее.
// Исход вызова, допущенного до открытия breaker'а, не меняет его состояние:
// закрыть открытый breaker может только успех пробного вызова.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}

	b.mu.Lock()
	if b.state == breakerOpen {
		if b.now().Sub(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = breakerHalfOpen
	}
	isProbe := false
	if b.state == breakerHalfOpen {
		if b.halfOpenFlight {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.halfOpenFlight = true
		isProbe = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if isProbe {
		b.halfOpenFlight = false
		if err == nil {
			b.state = breakerClosed
			b.failures = 0
			return nil
		}
		// Пробный вызов не удался — охлаждение начинается заново
		// с момента его завершения
		b.state = breakerOpen
		b.openedAt = b.now()
		b.failures = 0
		return err
	}

	// Вызов был допущен в закрытом состоянии. Если breaker за это время
	// открылся, исход вызова устарел и в учет не попадает.
	if b.state != breakerClosed {
		return err
	}

	if err == nil {
		b.failures = 0
		return nil
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
	return err
}

// Caller объединяет политику повторов и circuit breaker для одного назначения
// и логирует исход каждой попытки
type Caller struct {
	name    string
	breaker *CircuitBreaker
	retry   RetryPolicy
	logger  *log.Logger
}

// NewCaller создает обертку вызовов для назначения с указанным именем
func NewCaller(name string, breaker *CircuitBreaker, retry RetryPolicy, logger *log.Logger) *Caller {
	if logger == nil {
		logger = log.New(log.Writer(), "[Upstream] ", log.LstdFlags)
	}
	return &Caller{
		name:    name,
		breaker: breaker,
		retry:   retry,
		logger:  logger,
	}
}

// Do выполняет вызов через breaker с повторами. Повторы происходят только
// пока breaker закрыт или во время единственного пробного вызова: ErrCircuitOpen
// не считается попыткой и не повторяется.
func (c *Caller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	return c.retry.Do(ctx, func() error {
		attempt++
		err := c.breaker.Execute(func() error {
			return fn(ctx)
		})
		if err != nil {
			c.logger.Printf("%s: попытка %d завершилась ошибкой: %v", c.name, attempt, err)
		} else if attempt > 1 {
			c.logger.Printf("%s: попытка %d успешна", c.name, attempt)
		}
		return err
	})
}

// SleepWithContext ожидает указанную длительность или завершение контекста
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultJitter растягивает задержку в [d, 3d/2]: при удвоении базовой
// задержки нижняя граница следующего интервала выше верхней границы
// предыдущего, поэтому расписание остается строго возрастающим
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
