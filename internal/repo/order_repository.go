package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/director74/orderflow/internal/entity"
)

// OrderRepository интерфейс репозитория для работы с заказами
type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	Update(ctx context.Context, order *entity.Order) error
	List(ctx context.Context, limit, offset int) ([]entity.Order, int64, error)
}

// ErrOrderNotFound ошибка, когда заказ не найден
var ErrOrderNotFound = errors.New("заказ не найден")

// OrderRepositoryImpl реализация репозитория заказов на GORM
type OrderRepositoryImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &OrderRepositoryImpl{
		db: db,
	}
}

func (r *OrderRepositoryImpl) Create(ctx context.Context, order *entity.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepositoryImpl) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	var order entity.Order
	result := r.db.WithContext(ctx).First(&order, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, result.Error
	}
	return &order, nil
}

// Update сохраняет заказ целиком
func (r *OrderRepositoryImpl) Update(ctx context.Context, order *entity.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

// List возвращает страницу заказов и их общее количество
func (r *OrderRepositoryImpl) List(ctx context.Context, limit, offset int) ([]entity.Order, int64, error) {
	var orders []entity.Order
	result := r.db.WithContext(ctx).
		Limit(limit).
		Offset(offset).
		Order("created_at DESC").
		Find(&orders)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&entity.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
