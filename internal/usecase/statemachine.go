package usecase

import (
	"errors"
	"fmt"

	"github.com/director74/orderflow/internal/entity"
)

// SagaEvent исход шага саги, передаваемый машине состояний
type SagaEvent string

const (
	EventStockReserved      SagaEvent = "stock_reserved"
	EventStockRejected      SagaEvent = "stock_rejected"
	EventStockUnavailable   SagaEvent = "stock_unavailable"
	EventPaymentCharged     SagaEvent = "payment_charged"
	EventPaymentDeclined    SagaEvent = "payment_declined"
	EventPaymentUnavailable SagaEvent = "payment_unavailable"
)

// Transition результат перехода: следующий статус и признак необходимости
// компенсирующего освобождения резервации
type Transition struct {
	Next       entity.OrderStatus
	Compensate bool
}

// ErrTerminalStatus переход из конечного статуса запрещен
var ErrTerminalStatus = errors.New("заказ уже в конечном статусе")

// ErrUnknownTransition сочетание статуса и события не описано таблицей переходов
var ErrUnknownTransition = errors.New("недопустимый переход")

// transitions таблица переходов машины состояний заказа. Машина не выполняет
// никакого ввода-вывода: сага сообщает исход каждого шага и получает следующий
// статус вместе с требуемой компенсацией.
var transitions = map[entity.OrderStatus]map[SagaEvent]Transition{
	entity.OrderStatusPending: {
		// Резервация успешна — заказ остается PENDING до исхода оплаты
		EventStockReserved:      {Next: entity.OrderStatusPending},
		EventStockRejected:      {Next: entity.OrderStatusStockRejected},
		EventStockUnavailable:   {Next: entity.OrderStatusUpstreamUnavailable},
		EventPaymentCharged:     {Next: entity.OrderStatusConfirmed},
		EventPaymentDeclined:    {Next: entity.OrderStatusPaymentFailed, Compensate: true},
		EventPaymentUnavailable: {Next: entity.OrderStatusUpstreamUnavailable, Compensate: true},
	},
}

// NextTransition возвращает переход для текущего статуса и события
func NextTransition(current entity.OrderStatus, event SagaEvent) (Transition, error) {
	if current.IsTerminal() {
		return Transition{}, fmt.Errorf("%w: %s", ErrTerminalStatus, current)
	}
	row, ok := transitions[current]
	if !ok {
		return Transition{}, fmt.Errorf("%w: статус %s", ErrUnknownTransition, current)
	}
	tr, ok := row[event]
	if !ok {
		return Transition{}, fmt.Errorf("%w: статус %s, событие %s", ErrUnknownTransition, current, event)
	}
	return tr, nil
}
