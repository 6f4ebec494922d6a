package usecase

import (
	"context"

	"github.com/director74/orderflow/internal/entity"
)

// InventoryClient клиент сервиса склада
type InventoryClient interface {
	// Reserve резервирует позиции; возвращает ErrInsufficientStock при отказе
	// склада и ошибку, оборачивающую ErrUpstreamUnavailable, при недоступности
	Reserve(ctx context.Context, items []entity.OrderItem) error
	// Release освобождает ранее сделанную резервацию (компенсация)
	Release(ctx context.Context, items []entity.OrderItem) error
}

// PaymentClient клиент платежного сервиса
type PaymentClient interface {
	// Charge списывает средства и возвращает идентификатор транзакции.
	// Идемпотентный ключ передается сервису, чтобы тот дедуплицировал
	// повторные попытки саги.
	Charge(ctx context.Context, amountCents int64, currency string, idempotencyKey string) (string, error)
}

// EventPublisher интерфейс публикации событий заказа
type EventPublisher interface {
	PublishMessage(exchange, routingKey string, message interface{}) error
	PublishMessageWithRetry(exchange, routingKey string, message interface{}, retries int) error
}
