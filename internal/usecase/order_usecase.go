package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/director74/orderflow/internal/entity"
	"github.com/director74/orderflow/internal/repo"
	pkgerrors "github.com/director74/orderflow/pkg/errors"
	"github.com/director74/orderflow/pkg/messaging"
)

// OrderUseCase оркестрирует сагу обработки заказа: резервация на складе,
// списание средств, компенсация при частичном отказе
type OrderUseCase struct {
	repo          repo.OrderRepository
	idempotency   *IdempotencyCoordinator
	inventory     InventoryClient
	payments      PaymentClient
	publisher     EventPublisher
	orderExchange string
	sagaTimeout   time.Duration
	logger        *log.Logger
}

// CreateOrderResult итог обработки запроса на создание заказа
type CreateOrderResult struct {
	StatusCode int
	Response   entity.CreateOrderResponse
	Replayed   bool
}

// OrderFinalizedPayload событие о достижении заказом конечного статуса
type OrderFinalizedPayload struct {
	OrderID       string             `json:"order_id"`
	Status        entity.OrderStatus `json:"status"`
	TransactionID string             `json:"transaction_id,omitempty"`
}

// CompensationFailedPayload событие о неудавшейся компенсации для внешней сверки
type CompensationFailedPayload struct {
	OrderID string             `json:"order_id"`
	Items   []entity.OrderItem `json:"items"`
	Reason  string             `json:"reason"`
}

func NewOrderUseCase(
	orderRepo repo.OrderRepository,
	idempotency *IdempotencyCoordinator,
	inventory InventoryClient,
	payments PaymentClient,
	publisher EventPublisher,
	orderExchange string,
	sagaTimeout time.Duration,
) *OrderUseCase {
	if sagaTimeout <= 0 {
		sagaTimeout = 15 * time.Second
	}
	return &OrderUseCase{
		repo:          orderRepo,
		idempotency:   idempotency,
		inventory:     inventory,
		payments:      payments,
		publisher:     publisher,
		orderExchange: orderExchange,
		sagaTimeout:   sagaTimeout,
		logger:        log.New(log.Writer(), "[OrderSaga] ", log.LstdFlags),
	}
}

type sagaOutcome struct {
	result CreateOrderResult
	err    error
}

// CreateOrder проводит запрос через координатор идемпотентности и доводит
// заказ до конечного статуса. Если дедлайн вызывающего истекает раньше,
// сага продолжает выполняться в фоне: компенсация и фиксация записи
// идемпотентности происходят в любом случае.
func (uc *OrderUseCase) CreateOrder(ctx context.Context, req entity.CreateOrderRequest, idempotencyKey string) (CreateOrderResult, error) {
	fingerprint := ""
	if idempotencyKey != "" {
		fingerprint = RequestFingerprint(req)
	}

	session, err := uc.idempotency.Begin(ctx, idempotencyKey, fingerprint)
	if err != nil {
		return CreateOrderResult{}, err
	}

	if session.Decision == DecisionReplay {
		var resp entity.CreateOrderResponse
		if len(session.Record.ResponseBody) > 0 {
			if err := json.Unmarshal(session.Record.ResponseBody, &resp); err != nil {
				return CreateOrderResult{}, fmt.Errorf("ошибка чтения снимка ответа для ключа %s: %w", idempotencyKey, err)
			}
		}
		uc.logger.Printf("Повтор запроса с ключом %s, возвращается сохраненный ответ", idempotencyKey)
		return CreateOrderResult{
			StatusCode: replayStatusCode(session.Record.ResponseStatus),
			Response:   resp,
			Replayed:   true,
		}, nil
	}

	done := make(chan sagaOutcome, 1)
	go uc.executeSaga(req, idempotencyKey, session, done)

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		uc.logger.Printf("Дедлайн запроса истек, сага продолжается в фоне (key=%q)", idempotencyKey)
		return CreateOrderResult{}, pkgerrors.ErrUpstreamUnavailable
	}
}

// executeSaga выполняет сагу на собственном контексте, не зависящем от
// HTTP-запроса, и фиксирует итог в координаторе идемпотентности
func (uc *OrderUseCase) executeSaga(req entity.CreateOrderRequest, idempotencyKey string, session *IdempotencySession, done chan<- sagaOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), uc.sagaTimeout)
	defer cancel()

	result, err := uc.runSaga(ctx, req, idempotencyKey)
	if err != nil {
		// Внутренняя ошибка: слот освобождается без фиксации, следующий
		// запрос с тем же ключом возобновит выполнение
		uc.idempotency.Release(session)
		pkgerrors.LogError(err, "OrderSaga")
		done <- sagaOutcome{err: err}
		return
	}

	body, err := json.Marshal(result.Response)
	if err != nil {
		uc.idempotency.Release(session)
		done <- sagaOutcome{err: fmt.Errorf("ошибка сериализации ответа: %w", err)}
		return
	}
	if err := uc.idempotency.Complete(ctx, session, result.Response.ID, result.StatusCode, body); err != nil {
		// Ответ клиенту остается корректным, но повтор ключа возобновит сагу
		pkgerrors.LogErrorWithDetails(err, "OrderSaga", map[string]interface{}{"key": idempotencyKey})
	}

	done <- sagaOutcome{result: result}
}

// runSaga доводит заказ от PENDING до конечного статуса
func (uc *OrderUseCase) runSaga(ctx context.Context, req entity.CreateOrderRequest, idempotencyKey string) (CreateOrderResult, error) {
	items := req.ToItems()

	order := &entity.Order{
		ID:          uuid.NewString(),
		Status:      entity.OrderStatusPending,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	if err := order.SetItems(items); err != nil {
		return CreateOrderResult{}, err
	}
	if err := uc.repo.Create(ctx, order); err != nil {
		return CreateOrderResult{}, fmt.Errorf("ошибка при создании заказа: %w", err)
	}
	uc.logger.Printf("Заказ %s создан: Amount=%d %s, Items=%d", order.ID, order.AmountCents, order.Currency, len(items))

	// Шаг 1: резервация на складе. Резервация идет первой: освободить
	// неиспользованную резервацию дешево, отменять списание — нет.
	reserveErr := uc.inventory.Reserve(ctx, items)
	tr, err := NextTransition(order.Status, classifyStockOutcome(reserveErr))
	if err != nil {
		return CreateOrderResult{}, err
	}
	if tr.Next.IsTerminal() {
		uc.logger.Printf("Заказ %s: резервация не удалась (%v), статус %s", order.ID, reserveErr, tr.Next)
		return uc.finalizeOrder(ctx, order, tr.Next)
	}

	// Шаг 2: списание средств с тем же идемпотентным ключом
	transactionID, chargeErr := uc.payments.Charge(ctx, req.AmountCents, req.Currency, idempotencyKey)
	tr, err = NextTransition(order.Status, classifyPaymentOutcome(chargeErr))
	if err != nil {
		return CreateOrderResult{}, err
	}

	if tr.Compensate {
		uc.releaseReservation(ctx, order, items)
	}

	if chargeErr == nil {
		order.TransactionID = &transactionID
		uc.logger.Printf("Заказ %s: платеж проведен, transaction_id=%s", order.ID, transactionID)
	} else {
		uc.logger.Printf("Заказ %s: платеж не прошел (%v), статус %s", order.ID, chargeErr, tr.Next)
	}

	return uc.finalizeOrder(ctx, order, tr.Next)
}

// releaseReservation именованный шаг компенсации: освобождает резервацию,
// сделанную на шаге 1. Выполняется лучшим усилием — его неудача не меняет
// конечный статус заказа, но публикуется для внешней сверки.
func (uc *OrderUseCase) releaseReservation(ctx context.Context, order *entity.Order, items []entity.OrderItem) {
	if err := uc.inventory.Release(ctx, items); err != nil {
		pkgerrors.LogErrorWithDetails(err, "Compensation", map[string]interface{}{"order_id": order.ID})

		payload := CompensationFailedPayload{
			OrderID: order.ID,
			Items:   items,
			Reason:  err.Error(),
		}
		// Событие сверки не должно теряться — публикация с повторами
		if pubErr := uc.publisher.PublishMessageWithRetry(uc.orderExchange, "order.compensation.failed", payload, 3); pubErr != nil {
			pkgerrors.LogError(pubErr, "Compensation")
		}
		return
	}
	uc.logger.Printf("Заказ %s: резервация освобождена", order.ID)
}

// finalizeOrder сохраняет конечный статус заказа и публикует событие о нем
func (uc *OrderUseCase) finalizeOrder(ctx context.Context, order *entity.Order, status entity.OrderStatus) (CreateOrderResult, error) {
	order.Status = status
	if err := uc.repo.Update(ctx, order); err != nil {
		return CreateOrderResult{}, fmt.Errorf("ошибка при сохранении заказа %s: %w", order.ID, err)
	}

	payload := OrderFinalizedPayload{
		OrderID: order.ID,
		Status:  order.Status,
	}
	if order.TransactionID != nil {
		payload.TransactionID = *order.TransactionID
	}
	if err := messaging.PublishWithLogging(uc.publisher, uc.orderExchange, "order.finalized", payload); err != nil {
		pkgerrors.LogErrorWithDetails(err, "OrderSaga", map[string]interface{}{"order_id": order.ID})
	}

	items, err := order.GetItems()
	if err != nil {
		return CreateOrderResult{}, err
	}

	resp := entity.CreateOrderResponse{
		ID:          order.ID,
		Status:      order.Status,
		Items:       items,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
		CreatedAt:   order.CreatedAt,
	}
	if order.TransactionID != nil {
		resp.TransactionID = *order.TransactionID
	}

	return CreateOrderResult{StatusCode: httpStatusFor(order.Status), Response: resp}, nil
}

// GetOrder возвращает заказ по идентификатору
func (uc *OrderUseCase) GetOrder(ctx context.Context, id string) (entity.GetOrderResponse, error) {
	order, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return entity.GetOrderResponse{}, err
	}

	items, err := order.GetItems()
	if err != nil {
		return entity.GetOrderResponse{}, err
	}

	resp := entity.GetOrderResponse{
		ID:          order.ID,
		Status:      order.Status,
		Items:       items,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	if order.TransactionID != nil {
		resp.TransactionID = *order.TransactionID
	}
	return resp, nil
}

// ListOrders возвращает страницу заказов
func (uc *OrderUseCase) ListOrders(ctx context.Context, limit, offset int) (entity.ListOrdersResponse, error) {
	orders, total, err := uc.repo.List(ctx, limit, offset)
	if err != nil {
		return entity.ListOrdersResponse{}, err
	}

	resp := entity.ListOrdersResponse{
		Orders: make([]entity.GetOrderResponse, 0, len(orders)),
		Total:  total,
	}
	for i := range orders {
		items, err := orders[i].GetItems()
		if err != nil {
			return entity.ListOrdersResponse{}, err
		}
		item := entity.GetOrderResponse{
			ID:          orders[i].ID,
			Status:      orders[i].Status,
			Items:       items,
			AmountCents: orders[i].AmountCents,
			Currency:    orders[i].Currency,
			CreatedAt:   orders[i].CreatedAt,
			UpdatedAt:   orders[i].UpdatedAt,
		}
		if orders[i].TransactionID != nil {
			item.TransactionID = *orders[i].TransactionID
		}
		resp.Orders = append(resp.Orders, item)
	}
	return resp, nil
}

// classifyStockOutcome сопоставляет исход резервации с событием машины
// состояний: доменный отказ склада авторитетен, все остальное —
// недоступность после исчерпания повторов
func classifyStockOutcome(err error) SagaEvent {
	switch {
	case err == nil:
		return EventStockReserved
	case errors.Is(err, pkgerrors.ErrInsufficientStock):
		return EventStockRejected
	default:
		return EventStockUnavailable
	}
}

// classifyPaymentOutcome сопоставляет исход списания с событием машины
// состояний. Конфликт идемпотентности у платежного сервиса — авторитетный
// бизнес-исход, не повторяется.
func classifyPaymentOutcome(err error) SagaEvent {
	switch {
	case err == nil:
		return EventPaymentCharged
	case errors.Is(err, pkgerrors.ErrPaymentDeclined), errors.Is(err, pkgerrors.ErrPaymentConflict):
		return EventPaymentDeclined
	default:
		return EventPaymentUnavailable
	}
}

// httpStatusFor сопоставляет конечный статус заказа с HTTP-кодом снимка ответа
func httpStatusFor(status entity.OrderStatus) int {
	switch status {
	case entity.OrderStatusConfirmed:
		return http.StatusCreated
	case entity.OrderStatusStockRejected:
		return http.StatusUnprocessableEntity
	case entity.OrderStatusPaymentFailed:
		return http.StatusPaymentRequired
	case entity.OrderStatusUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// replayStatusCode код ответа при повторе: первично созданный заказ (201)
// при повторе возвращается с кодом 200, остальные коды сохраняются
func replayStatusCode(stored int) int {
	if stored == http.StatusCreated {
		return http.StatusOK
	}
	return stored
}
