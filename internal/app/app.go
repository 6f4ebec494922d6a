package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/director74/orderflow/config"
	httpController "github.com/director74/orderflow/internal/controller/http"
	"github.com/director74/orderflow/internal/entity"
	"github.com/director74/orderflow/internal/repo"
	"github.com/director74/orderflow/internal/usecase"
	"github.com/director74/orderflow/internal/usecase/webapi"
	pkgconfig "github.com/director74/orderflow/pkg/config"
	"github.com/director74/orderflow/pkg/database"
	pkgerrors "github.com/director74/orderflow/pkg/errors"
	"github.com/director74/orderflow/pkg/messaging"
	"github.com/director74/orderflow/pkg/rabbitmq"
	"github.com/director74/orderflow/pkg/resilience"
)

// App представляет приложение
type App struct {
	config     *config.Config
	httpServer *http.Server
	db         *gorm.DB
	rabbitMQ   *rabbitmq.RabbitMQ
}

func NewApp(cfg *config.Config) (*App, error) {
	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		return nil, pkgerrors.AppendPrefix(err, "не удалось подключиться к базе данных")
	}

	// Автомиграция моделей
	if err := database.AutoMigrateWithCleanup(db, &entity.Order{}, &entity.IdempotencyRecord{}); err != nil {
		return nil, pkgerrors.AppendPrefix(err, "не удалось выполнить миграцию")
	}

	// Инициализируем подключение к RabbitMQ
	rmq, err := messaging.InitRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		database.CloseDB(db)
		return nil, pkgerrors.AppendPrefix(err, "не удалось подключиться к RabbitMQ")
	}

	// Настраиваем exchanges
	exchanges := map[string]string{
		"order_events": "topic",
	}
	if err := messaging.SetupExchanges(rmq, exchanges); err != nil {
		database.CloseDB(db)
		rmq.Close()
		return nil, pkgerrors.AppendPrefix(err, "ошибка при настройке RabbitMQ")
	}

	// Создаем репозитории
	orderRepo := repo.NewOrderRepository(db)
	idempotencyRepo := repo.NewIdempotencyRepository(db)

	// Клиенты внешних сервисов: у каждого назначения собственный circuit breaker,
	// политика повторов общая. Доменные исходы не повторяются.
	inventoryClient := webapi.NewInventoryClient(
		cfg.Services.InventoryURL,
		cfg.Resilience.RequestTimeout,
		newCaller("inventory", cfg.Resilience),
	)
	paymentClient := webapi.NewPaymentClient(
		cfg.Services.PaymentsURL,
		cfg.Resilience.RequestTimeout,
		newCaller("payments", cfg.Resilience),
	)

	// Создаем use cases
	idempotencyCoordinator := usecase.NewIdempotencyCoordinator(idempotencyRepo, nil)
	orderUseCase := usecase.NewOrderUseCase(
		orderRepo,
		idempotencyCoordinator,
		inventoryClient,
		paymentClient,
		rmq,
		"order_events",
		cfg.Resilience.SagaTimeout,
	)

	// Создаем HTTP контроллеры
	orderHandler := httpController.NewOrderHandler(orderUseCase)
	healthHandler := httpController.NewHealthHandler(db)

	// Инициализируем Gin роутер
	router := gin.Default()

	router.Use(pkgerrors.RecoveryMiddleware())
	router.Use(pkgerrors.ErrorMiddleware())

	router.NoRoute(pkgerrors.NotFoundHandler())
	router.NoMethod(pkgerrors.MethodNotAllowedHandler())

	orderHandler.RegisterRoutes(router)
	healthHandler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &App{
		config:     cfg,
		httpServer: httpServer,
		db:         db,
		rabbitMQ:   rmq,
	}, nil
}

// newCaller собирает обертку исходящих вызовов для одного назначения
func newCaller(name string, cfg pkgconfig.ResilienceConfig) *resilience.Caller {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		CoolDown:         cfg.BreakerCoolDown,
	})
	retry := resilience.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		// Повторяются только ошибки недоступности: доменные отказы и открытый
		// breaker авторитетны
		ShouldRetry: func(err error) bool {
			return errors.Is(err, pkgerrors.ErrUpstreamUnavailable)
		},
	}
	return resilience.NewCaller(name, breaker, retry, nil)
}

// Run запускает приложение
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("HTTP сервер запущен на порту %s", a.config.HTTP.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска HTTP сервера: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Получен сигнал завершения, закрываем приложение...")
	case <-ctx.Done():
		log.Println("Контекст завершен, закрываем приложение...")
	}

	return a.Shutdown()
}

// Shutdown корректно завершает работу приложения
func (a *App) Shutdown() error {
	errGroup := pkgerrors.NewErrorGroup()

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.httpServer.Shutdown(ctx); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии HTTP сервера")
		}
	}

	if a.rabbitMQ != nil {
		a.rabbitMQ.Close()
	}

	if a.db != nil {
		if err := database.CloseDB(a.db); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии соединения с базой данных")
		}
	}

	if errGroup.HasErrors() {
		pkgerrors.LogError(errGroup, "Shutdown")
		return errGroup
	}

	log.Println("Приложение успешно завершено")
	return nil
}
