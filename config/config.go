package config

import (
	"github.com/director74/orderflow/pkg/config"
)

// Config содержит конфигурацию сервиса заказов
type Config struct {
	HTTP       config.HTTPConfig
	Postgres   config.PostgresConfig
	RabbitMQ   config.RabbitMQConfig
	Services   config.ServicesConfig
	Resilience config.ResilienceConfig
}

// NewConfig создает новую конфигурацию из переменных окружения
func NewConfig() (*Config, error) {
	common := config.LoadCommonConfig("orders", "8080")
	services := config.LoadServicesConfig()
	resilience := config.LoadResilienceConfig()

	return &Config{
		HTTP:       common.HTTP,
		Postgres:   common.Postgres,
		RabbitMQ:   common.RabbitMQ,
		Services:   *services,
		Resilience: *resilience,
	}, nil
}
