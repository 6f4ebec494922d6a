package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/director74/orderflow/internal/entity"
)

// ErrIdempotencyKeyExists запись с таким ключом уже существует
var ErrIdempotencyKeyExists = errors.New("запись идемпотентности уже существует")

// ErrIdempotencyRecordNotFound запись с таким ключом не найдена
var ErrIdempotencyRecordNotFound = errors.New("запись идемпотентности не найдена")

// IdempotencyRepository интерфейс репозитория записей идемпотентности
type IdempotencyRepository interface {
	// Insert атомарно создает запись; возвращает ErrIdempotencyKeyExists,
	// если ключ уже занят
	Insert(ctx context.Context, record *entity.IdempotencyRecord) error
	GetByKey(ctx context.Context, key string) (*entity.IdempotencyRecord, error)
	// Complete записывает снимок ответа и переводит запись в состояние COMPLETE
	Complete(ctx context.Context, key string, orderID string, responseStatus int, responseBody []byte) error
}

// IdempotencyRepositoryImpl реализация репозитория на GORM
type IdempotencyRepositoryImpl struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &IdempotencyRepositoryImpl{db: db}
}

// Insert создает запись. Атомарность обеспечивается первичным ключом:
// при конфликте вставка пропускается и возвращается ErrIdempotencyKeyExists.
func (r *IdempotencyRepositoryImpl) Insert(ctx context.Context, record *entity.IdempotencyRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return fmt.Errorf("ошибка создания записи идемпотентности %s: %w", record.Key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdempotencyKeyExists
	}
	return nil
}

func (r *IdempotencyRepositoryImpl) GetByKey(ctx context.Context, key string) (*entity.IdempotencyRecord, error) {
	var record entity.IdempotencyRecord
	result := r.db.WithContext(ctx).First(&record, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrIdempotencyRecordNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи идемпотентности %s: %w", key, result.Error)
	}
	return &record, nil
}

func (r *IdempotencyRepositoryImpl) Complete(ctx context.Context, key string, orderID string, responseStatus int, responseBody []byte) error {
	result := r.db.WithContext(ctx).
		Model(&entity.IdempotencyRecord{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"state":           entity.IdempotencyStateComplete,
			"order_id":        orderID,
			"response_status": responseStatus,
			"response_body":   datatypes.JSON(responseBody),
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка завершения записи идемпотентности %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIdempotencyRecordNotFound
	}
	return nil
}
