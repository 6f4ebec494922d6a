package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/director74/orderflow/internal/entity"
	"github.com/director74/orderflow/internal/repo"
	pkgerrors "github.com/director74/orderflow/pkg/errors"
)

// IdempotencyDecision решение координатора по входящему запросу
type IdempotencyDecision string

const (
	// DecisionProceed запрос выполняется впервые, сагу нужно запустить
	DecisionProceed IdempotencyDecision = "proceed"
	// DecisionReplay ключ уже обработан, возвращается сохраненный снимок ответа
	DecisionReplay IdempotencyDecision = "replay"
)

// IdempotencySession результат Begin. Для решения Proceed сессия удерживает
// слот ключа до вызова Complete или Release.
type IdempotencySession struct {
	Decision IdempotencyDecision
	Record   *entity.IdempotencyRecord

	key      string
	slot     *keySlot
	released bool
}

// keySlot слот сериализации выполнения по одному ключу
type keySlot struct {
	sem  chan struct{}
	refs int
}

// IdempotencyCoordinator сопоставляет идемпотентный ключ с отпечатком запроса
// и снимком ответа и гарантирует не более одного одновременного выполнения
// саги на ключ. Повторный запрос с тем же ключом и отпечатком, пришедший во
// время выполнения, ждет завершения и получает сохраненный ответ.
type IdempotencyCoordinator struct {
	repo   repo.IdempotencyRepository
	logger *log.Logger

	mu    sync.Mutex
	slots map[string]*keySlot
}

// NewIdempotencyCoordinator создает координатор идемпотентности
func NewIdempotencyCoordinator(idempotencyRepo repo.IdempotencyRepository, logger *log.Logger) *IdempotencyCoordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Idempotency] ", log.LstdFlags)
	}
	return &IdempotencyCoordinator{
		repo:   idempotencyRepo,
		logger: logger,
		slots:  make(map[string]*keySlot),
	}
}

// Begin проверяет ключ и либо разрешает выполнение, либо возвращает снимок
// прежнего ответа. Пустой ключ означает выполнение без дедупликации.
// Возвращает ErrIdempotencyConflict, если ключ занят другим отпечатком, и
// ErrIdempotencyInProgress, если ожидание слота прервано контекстом.
func (c *IdempotencyCoordinator) Begin(ctx context.Context, key string, fingerprint string) (*IdempotencySession, error) {
	if key == "" {
		return &IdempotencySession{Decision: DecisionProceed}, nil
	}

	slot, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	record := &entity.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		State:       entity.IdempotencyStateInProgress,
	}
	insertErr := c.repo.Insert(ctx, record)
	if insertErr == nil {
		return &IdempotencySession{Decision: DecisionProceed, Record: record, key: key, slot: slot}, nil
	}
	if !errors.Is(insertErr, repo.ErrIdempotencyKeyExists) {
		c.release(key, slot)
		return nil, insertErr
	}

	existing, err := c.repo.GetByKey(ctx, key)
	if err != nil {
		c.release(key, slot)
		return nil, err
	}

	// Для ключа навсегда зафиксирован ровно один отпечаток
	if existing.Fingerprint != fingerprint {
		c.release(key, slot)
		return nil, pkgerrors.ErrIdempotencyConflict
	}

	if existing.State == entity.IdempotencyStateComplete {
		c.release(key, slot)
		return &IdempotencySession{Decision: DecisionReplay, Record: existing}, nil
	}

	// Запись IN_PROGRESS при свободном слоте: предыдущее выполнение было
	// прервано до фиксации ответа. Берем обработку на себя — платежный
	// сервис дедуплицирует повторное списание по тому же ключу.
	c.logger.Printf("Незавершенная запись для ключа %s, выполнение возобновляется", key)
	return &IdempotencySession{Decision: DecisionProceed, Record: existing, key: key, slot: slot}, nil
}

// Complete атомарно фиксирует снимок ответа, переводит запись в COMPLETE
// и освобождает слот ключа
func (c *IdempotencyCoordinator) Complete(ctx context.Context, session *IdempotencySession, orderID string, responseStatus int, responseBody []byte) error {
	if session == nil || session.slot == nil {
		return nil
	}
	defer c.releaseSession(session)

	if err := c.repo.Complete(ctx, session.key, orderID, responseStatus, responseBody); err != nil {
		return err
	}
	return nil
}

// Release освобождает слот ключа без фиксации ответа. Используется, когда
// сага завершилась внутренней ошибкой: запись остается IN_PROGRESS и
// следующий запрос с тем же ключом возобновит выполнение.
func (c *IdempotencyCoordinator) Release(session *IdempotencySession) {
	if session == nil || session.slot == nil {
		return
	}
	c.releaseSession(session)
}

func (c *IdempotencyCoordinator) releaseSession(session *IdempotencySession) {
	if session.released {
		return
	}
	session.released = true
	c.release(session.key, session.slot)
}

// acquire занимает слот ключа, ожидая его освобождения при необходимости.
// Запросы с разными ключами друг друга не блокируют.
func (c *IdempotencyCoordinator) acquire(ctx context.Context, key string) (*keySlot, error) {
	c.mu.Lock()
	slot, ok := c.slots[key]
	if !ok {
		slot = &keySlot{sem: make(chan struct{}, 1)}
		c.slots[key] = slot
	}
	slot.refs++
	c.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return slot, nil
	case <-ctx.Done():
		c.unref(key, slot)
		return nil, pkgerrors.ErrIdempotencyInProgress
	}
}

func (c *IdempotencyCoordinator) release(key string, slot *keySlot) {
	<-slot.sem
	c.unref(key, slot)
}

func (c *IdempotencyCoordinator) unref(key string, slot *keySlot) {
	c.mu.Lock()
	slot.refs--
	if slot.refs <= 0 {
		delete(c.slots, key)
	}
	c.mu.Unlock()
}

// RequestFingerprint вычисляет детерминированный отпечаток нормализованного
// тела запроса: SHA-256 от канонического JSON (позиции, сумма, валюта)
func RequestFingerprint(req entity.CreateOrderRequest) string {
	payload := struct {
		AmountCents int64              `json:"amount_cents"`
		Currency    string             `json:"currency"`
		Items       []entity.OrderItem `json:"items"`
	}{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Items:       req.ToItems(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Структура сериализуема всегда; ветка недостижима
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
