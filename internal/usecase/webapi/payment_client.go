package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	pkgerrors "github.com/director74/orderflow/pkg/errors"
	"github.com/director74/orderflow/pkg/resilience"
)

// PaymentClientImpl HTTP-клиент платежного сервиса
type PaymentClientImpl struct {
	baseURL    string
	httpClient *http.Client
	caller     *resilience.Caller
	logger     *log.Logger
}

type chargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type chargeResponse struct {
	Paid          bool   `json:"paid"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NewPaymentClient создает клиент платежного сервиса
func NewPaymentClient(baseURL string, requestTimeout time.Duration, caller *resilience.Caller) *PaymentClientImpl {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &PaymentClientImpl{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		caller:     caller,
		logger:     log.New(log.Writer(), "[PaymentClient] ", log.LstdFlags),
	}
}

// Charge списывает средства. Идемпотентный ключ передается заголовком,
// чтобы платежный сервис дедуплицировал повторные попытки: повтор после
// сетевого сбоя безопасен. Отклонение платежа (402) и конфликт ключа (409)
// являются доменными исходами и не повторяются.
func (c *PaymentClientImpl) Charge(ctx context.Context, amountCents int64, currency string, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(chargeRequest{AmountCents: amountCents, Currency: currency})
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса списания: %w", err)
	}

	var transactionID string
	err = c.caller.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charge", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("ошибка создания запроса списания: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: платежный сервис недоступен: %v", pkgerrors.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body chargeResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("%w: некорректный ответ платежного сервиса: %v", pkgerrors.ErrUpstreamUnavailable, err)
			}
			if !body.Paid {
				return fmt.Errorf("%w: %s", pkgerrors.ErrPaymentDeclined, body.Reason)
			}
			transactionID = body.TransactionID
			return nil
		case resp.StatusCode == http.StatusPaymentRequired:
			var body chargeResponse
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return fmt.Errorf("%w: %s", pkgerrors.ErrPaymentDeclined, body.Reason)
		case resp.StatusCode == http.StatusConflict:
			drain(resp.Body)
			return fmt.Errorf("%w: ключ %s занят другим платежом", pkgerrors.ErrPaymentConflict, idempotencyKey)
		case resp.StatusCode >= http.StatusInternalServerError:
			drain(resp.Body)
			return fmt.Errorf("%w: платежный сервис вернул %d", pkgerrors.ErrUpstreamUnavailable, resp.StatusCode)
		default:
			drain(resp.Body)
			return fmt.Errorf("неожиданный ответ платежного сервиса: %d", resp.StatusCode)
		}
	})
	if err != nil {
		return "", err
	}

	c.logger.Printf("Платеж проведен: transaction_id=%s", transactionID)
	return transactionID, nil
}
