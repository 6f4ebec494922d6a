package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/director74/orderflow/internal/entity"
	pkgerrors "github.com/director74/orderflow/pkg/errors"
	"github.com/director74/orderflow/pkg/resilience"
)

func testCaller(name string, attempts int) *resilience.Caller {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 100,
		CoolDown:         time.Minute,
	})
	retry := resilience.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep:       func(context.Context, time.Duration) error { return nil },
		ShouldRetry: func(err error) bool { return errors.Is(err, pkgerrors.ErrUpstreamUnavailable) },
	}
	return resilience.NewCaller(name, breaker, retry, nil)
}

func testItems() []entity.OrderItem {
	return []entity.OrderItem{{SKU: "SKU1", Quantity: 2}}
}

func TestInventoryReserveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reserve", r.URL.Path)

		var body struct {
			Items []entity.OrderItem `json:"items"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testItems(), body.Items)

		json.NewEncoder(w).Encode(map[string]bool{"reserved": true})
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, time.Second, testCaller("inventory", 3))
	assert.NoError(t, client.Reserve(context.Background(), testItems()))
}

func TestInventoryReserveInsufficientStockNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{"reserved": false, "reason": "недостаточно SKU1"})
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, time.Second, testCaller("inventory", 3))
	err := client.Reserve(context.Background(), testItems())

	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientStock)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInventoryReserveRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"reserved": true})
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, time.Second, testCaller("inventory", 3))
	assert.NoError(t, client.Reserve(context.Background(), testItems()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestInventoryReserveExhaustedRetriesReportUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, time.Second, testCaller("inventory", 3))
	err := client.Reserve(context.Background(), testItems())
	assert.ErrorIs(t, err, pkgerrors.ErrUpstreamUnavailable)
}

func TestInventoryReserveConnectionRefused(t *testing.T) {
	client := NewInventoryClient("http://127.0.0.1:1", time.Second, testCaller("inventory", 2))
	err := client.Reserve(context.Background(), testItems())
	assert.ErrorIs(t, err, pkgerrors.ErrUpstreamUnavailable)
}

func TestInventoryRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/release", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewInventoryClient(server.URL, time.Second, testCaller("inventory", 3))
	assert.NoError(t, client.Release(context.Background(), testItems()))
}

func TestPaymentChargeSuccessPropagatesIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charge", r.URL.Path)
		assert.Equal(t, "order-1001", r.Header.Get("Idempotency-Key"))

		var body struct {
			AmountCents int64  `json:"amount_cents"`
			Currency    string `json:"currency"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1500), body.AmountCents)
		assert.Equal(t, "EUR", body.Currency)

		json.NewEncoder(w).Encode(map[string]interface{}{"paid": true, "transaction_id": "tx-1"})
	}))
	defer server.Close()

	client := NewPaymentClient(server.URL, time.Second, testCaller("payments", 3))
	transactionID, err := client.Charge(context.Background(), 1500, "EUR", "order-1001")

	assert.NoError(t, err)
	assert.Equal(t, "tx-1", transactionID)
}

func TestPaymentChargeDeclinedNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{"paid": false, "reason": "card declined"})
	}))
	defer server.Close()

	client := NewPaymentClient(server.URL, time.Second, testCaller("payments", 3))
	_, err := client.Charge(context.Background(), 1500, "EUR", "order-1001")

	assert.ErrorIs(t, err, pkgerrors.ErrPaymentDeclined)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPaymentChargeConflictNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewPaymentClient(server.URL, time.Second, testCaller("payments", 3))
	_, err := client.Charge(context.Background(), 1500, "EUR", "order-1001")

	assert.ErrorIs(t, err, pkgerrors.ErrPaymentConflict)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPaymentChargeRetriesSameKeyAfterServerError(t *testing.T) {
	var calls int32
	keys := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys[r.Header.Get("Idempotency-Key")]++
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"paid": true, "transaction_id": "tx-1"})
	}))
	defer server.Close()

	client := NewPaymentClient(server.URL, time.Second, testCaller("payments", 3))
	transactionID, err := client.Charge(context.Background(), 1500, "EUR", "order-1001")

	assert.NoError(t, err)
	assert.Equal(t, "tx-1", transactionID)
	// Все повторы несут один и тот же идемпотентный ключ
	assert.Equal(t, map[string]int{"order-1001": 2}, keys)
}
