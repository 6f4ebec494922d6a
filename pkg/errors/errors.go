package errors

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

// Общие ошибки
var (
	ErrNotFound       = errors.New("ресурс не найден")
	ErrAlreadyExists  = errors.New("ресурс уже существует")
	ErrInternalServer = errors.New("внутренняя ошибка сервера")
	ErrBadRequest     = errors.New("некорректный запрос")
)

// Ошибки доменных исходов саги заказа
var (
	// ErrInsufficientStock — склад отказал в резервации, авторитетный бизнес-исход
	ErrInsufficientStock = errors.New("недостаточно товара на складе")
	// ErrPaymentDeclined — платеж отклонен платежным сервисом
	ErrPaymentDeclined = errors.New("платеж отклонен")
	// ErrPaymentConflict — платежный сервис сообщил о конфликте идемпотентности
	ErrPaymentConflict = errors.New("конфликт идемпотентности в платежном сервисе")
	// ErrUpstreamUnavailable — внешний сервис недоступен после исчерпания повторов
	ErrUpstreamUnavailable = errors.New("внешний сервис недоступен")
)

// Ошибки координатора идемпотентности
var (
	// ErrIdempotencyConflict — тот же ключ использован с другим телом запроса
	ErrIdempotencyConflict = errors.New("идемпотентный ключ использован с другим телом запроса")
	// ErrIdempotencyInProgress — запрос с этим ключом еще обрабатывается
	ErrIdempotencyInProgress = errors.New("запрос с этим ключом еще обрабатывается")
)

// AppendPrefix добавляет префикс к сообщению об ошибке
func AppendPrefix(err error, prefix string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// LogError логирует ошибку с контекстом
func LogError(err error, context string) {
	if err == nil {
		return
	}
	log.Printf("ОШИБКА [%s]: %v", context, err)
}

// LogErrorWithDetails логирует ошибку с контекстом и дополнительными деталями
func LogErrorWithDetails(err error, context string, details map[string]interface{}) {
	if err == nil {
		return
	}

	var detailsString strings.Builder
	for k, v := range details {
		if detailsString.Len() > 0 {
			detailsString.WriteString(", ")
		}
		detailsString.WriteString(fmt.Sprintf("%s=%v", k, v))
	}

	log.Printf("ОШИБКА [%s]: %v | Детали: %s", context, err, detailsString.String())
}

// ErrorGroup представляет группу ошибок, собранных из разных операций
type ErrorGroup struct {
	errors []error
}

// NewErrorGroup создает новую группу ошибок
func NewErrorGroup() *ErrorGroup {
	return &ErrorGroup{
		errors: make([]error, 0),
	}
}

// Add добавляет ошибку в группу (игнорирует nil)
func (g *ErrorGroup) Add(err error) {
	if err != nil {
		g.errors = append(g.errors, err)
	}
}

// AddPrefix добавляет ошибку с префиксом в группу
func (g *ErrorGroup) AddPrefix(err error, prefix string) {
	if err != nil {
		g.errors = append(g.errors, AppendPrefix(err, prefix))
	}
}

// HasErrors проверяет, есть ли ошибки в группе
func (g *ErrorGroup) HasErrors() bool {
	return len(g.errors) > 0
}

// Error возвращает конкатенацию всех ошибок в группе
func (g *ErrorGroup) Error() string {
	var sb strings.Builder
	for i, err := range g.errors {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}
