package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/director74/orderflow/internal/entity"
	"github.com/director74/orderflow/internal/repo"
	"github.com/director74/orderflow/internal/usecase"
	pkgerrors "github.com/director74/orderflow/pkg/errors"
)

// OrderHandler обработчик HTTP-запросов к заказам
type OrderHandler struct {
	orderUseCase *usecase.OrderUseCase
}

// NewOrderHandler создает обработчик заказов
func NewOrderHandler(orderUseCase *usecase.OrderUseCase) *OrderHandler {
	return &OrderHandler{orderUseCase: orderUseCase}
}

// RegisterRoutes регистрирует маршруты API
func (h *OrderHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		orders := api.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:id", h.GetOrder)
		}
	}
}

// CreateOrder принимает запрос на создание заказа и проводит его через сагу.
// Идемпотентный ключ берется из заголовка Idempotency-Key; повтор обработанного
// запроса возвращает сохраненный ответ с заголовком X-Idempotent-Replay.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req entity.CreateOrderRequest
	if !pkgerrors.BindJSON(c, &req) {
		return
	}
	if err := req.Normalize(); err != nil {
		code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewBadRequestError(err.Error()))
		c.JSON(code, response)
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")

	result, err := h.orderUseCase.CreateOrder(c.Request.Context(), req, idempotencyKey)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrIdempotencyConflict):
			c.JSON(http.StatusConflict, pkgerrors.ErrorResponse(err.Error(), gin.H{"idempotency_key": idempotencyKey}))
		case errors.Is(err, pkgerrors.ErrIdempotencyInProgress):
			c.JSON(http.StatusServiceUnavailable, pkgerrors.ErrorResponse(err.Error(), gin.H{"idempotency_key": idempotencyKey}))
		case errors.Is(err, pkgerrors.ErrUpstreamUnavailable):
			c.JSON(http.StatusServiceUnavailable, pkgerrors.ErrorResponse(err.Error(), nil))
		default:
			code, response := pkgerrors.ToHTTPResponse(err)
			c.JSON(code, response)
		}
		return
	}

	if result.Replayed {
		c.Header("X-Idempotent-Replay", "true")
	}
	c.JSON(result.StatusCode, result.Response)
}

// GetOrder возвращает заказ по идентификатору
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewValidationError("id", "идентификатор заказа должен быть UUID"))
		c.JSON(code, response)
		return
	}

	resp, err := h.orderUseCase.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrOrderNotFound) {
			code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewNotFoundError("заказ", id))
			c.JSON(code, response)
			return
		}
		code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewInternalServerError(err))
		c.JSON(code, response)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListOrders возвращает страницу заказов
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewValidationError("limit", "должно быть целым числом от 1 до 100"))
		c.JSON(code, response)
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewValidationError("offset", "должно быть неотрицательным целым числом"))
		c.JSON(code, response)
		return
	}

	resp, err := h.orderUseCase.ListOrders(c.Request.Context(), limit, offset)
	if err != nil {
		code, response := pkgerrors.ToHTTPResponse(pkgerrors.NewInternalServerError(err))
		c.JSON(code, response)
		return
	}

	c.JSON(http.StatusOK, resp)
}
