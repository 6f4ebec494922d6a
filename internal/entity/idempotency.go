package entity

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyState состояние записи идемпотентности
type IdempotencyState string

const (
	IdempotencyStateInProgress IdempotencyState = "IN_PROGRESS"
	IdempotencyStateComplete   IdempotencyState = "COMPLETE"
)

// IdempotencyRecord связывает клиентский идемпотентный ключ с отпечатком
// исходного запроса и, после завершения обработки, со снимком ответа.
// Для ключа навсегда фиксируется ровно один отпечаток.
type IdempotencyRecord struct {
	Key            string           `gorm:"primaryKey;type:varchar(255)"`
	Fingerprint    string           `gorm:"type:varchar(64);not null"`
	State          IdempotencyState `gorm:"type:varchar(20);not null;index"`
	ResponseStatus int              `gorm:"not null;default:0"`
	ResponseBody   datatypes.JSON
	OrderID        string    `gorm:"type:uuid"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName задает имя таблицы для GORM
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
