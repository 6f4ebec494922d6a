package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/director74/orderflow/pkg/database"
)

// HealthHandler обработчик проверки работоспособности сервиса
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// RegisterRoutes регистрирует маршрут проверки работоспособности
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
}

// Health отвечает 200, если сервис и база данных доступны
func (h *HealthHandler) Health(c *gin.Context) {
	if err := database.Ping(h.db); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unavailable",
			"database": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
