package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/director74/orderflow/internal/entity"
	pkgerrors "github.com/director74/orderflow/pkg/errors"
	"github.com/director74/orderflow/pkg/resilience"
)

// InventoryClientImpl HTTP-клиент сервиса склада
type InventoryClientImpl struct {
	baseURL    string
	httpClient *http.Client
	caller     *resilience.Caller
	logger     *log.Logger
}

type reserveRequest struct {
	Items []entity.OrderItem `json:"items"`
}

type reserveResponse struct {
	Reserved bool   `json:"reserved"`
	Reason   string `json:"reason,omitempty"`
}

// NewInventoryClient создает клиент сервиса склада
func NewInventoryClient(baseURL string, requestTimeout time.Duration, caller *resilience.Caller) *InventoryClientImpl {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &InventoryClientImpl{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		caller:     caller,
		logger:     log.New(log.Writer(), "[InventoryClient] ", log.LstdFlags),
	}
}

// Reserve резервирует позиции заказа на складе. Отказ склада (422) является
// доменным исходом и не повторяется; сетевые ошибки и 5xx повторяются и после
// исчерпания попыток оборачивают ErrUpstreamUnavailable.
func (c *InventoryClientImpl) Reserve(ctx context.Context, items []entity.OrderItem) error {
	payload, err := json.Marshal(reserveRequest{Items: items})
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса резервации: %w", err)
	}

	return c.caller.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reserve", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("ошибка создания запроса резервации: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: сервис склада недоступен: %v", pkgerrors.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body reserveResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("%w: некорректный ответ сервиса склада: %v", pkgerrors.ErrUpstreamUnavailable, err)
			}
			if !body.Reserved {
				return fmt.Errorf("%w: %s", pkgerrors.ErrInsufficientStock, body.Reason)
			}
			return nil
		case resp.StatusCode == http.StatusUnprocessableEntity:
			var body reserveResponse
			// Причина отказа необязательна, ошибку декодирования игнорируем
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return fmt.Errorf("%w: %s", pkgerrors.ErrInsufficientStock, body.Reason)
		case resp.StatusCode >= http.StatusInternalServerError:
			drain(resp.Body)
			return fmt.Errorf("%w: сервис склада вернул %d", pkgerrors.ErrUpstreamUnavailable, resp.StatusCode)
		default:
			drain(resp.Body)
			return fmt.Errorf("неожиданный ответ сервиса склада: %d", resp.StatusCode)
		}
	})
}

// Release освобождает ранее сделанную резервацию. Вызывается как компенсация,
// поэтому проходит через тот же breaker и повторы, что и Reserve.
func (c *InventoryClientImpl) Release(ctx context.Context, items []entity.OrderItem) error {
	payload, err := json.Marshal(reserveRequest{Items: items})
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса освобождения: %w", err)
	}

	return c.caller.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/release", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("ошибка создания запроса освобождения: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: сервис склада недоступен: %v", pkgerrors.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()
		drain(resp.Body)

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: сервис склада вернул %d", pkgerrors.ErrUpstreamUnavailable, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("неожиданный ответ сервиса склада при освобождении: %d", resp.StatusCode)
		}
		c.logger.Printf("Резервация освобождена: %d позиций", len(items))
		return nil
	})
}

// drain вычитывает тело ответа для переиспользования соединения
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}
