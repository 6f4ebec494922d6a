package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CommonConfig содержит общую конфигурацию сервиса
type CommonConfig struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
}

// HTTPConfig содержит настройки HTTP сервера
type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig содержит настройки базы данных PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RabbitMQConfig содержит настройки RabbitMQ
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// ServicesConfig содержит адреса внешних сервисов
type ServicesConfig struct {
	InventoryURL string
	PaymentsURL  string
}

// ResilienceConfig содержит настройки устойчивости исходящих вызовов:
// таймаут запроса, политику повторов и circuit breaker
type ResilienceConfig struct {
	RequestTimeout   time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerThreshold int
	BreakerCoolDown  time.Duration
	SagaTimeout      time.Duration
}

// LoadCommonConfig загружает общую конфигурацию из переменных окружения
func LoadCommonConfig(serviceName string, port string) *CommonConfig {
	// Загружаем переменные окружения из .env файла, если он существует
	godotenv.Load()

	return &CommonConfig{
		HTTP: HTTPConfig{
			Port:         GetEnv("HTTP_PORT", port),
			ReadTimeout:  GetEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: GetEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     GetEnv("POSTGRES_HOST", "localhost"),
			Port:     GetEnv("POSTGRES_PORT", "5432"),
			User:     GetEnv("POSTGRES_USER", "postgres"),
			Password: GetEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   GetEnv("POSTGRES_DB", serviceName),
			SSLMode:  GetEnv("POSTGRES_SSLMODE", "disable"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     GetEnv("RABBITMQ_HOST", "localhost"),
			Port:     GetEnv("RABBITMQ_PORT", "5672"),
			User:     GetEnv("RABBITMQ_USER", "guest"),
			Password: GetEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    GetEnv("RABBITMQ_VHOST", "/"),
		},
	}
}

// LoadServicesConfig загружает адреса внешних сервисов из переменных окружения
func LoadServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		InventoryURL: GetEnv("INVENTORY_SERVICE_URL", "http://localhost:8081"),
		PaymentsURL:  GetEnv("PAYMENTS_SERVICE_URL", "http://localhost:8082"),
	}
}

// LoadResilienceConfig загружает настройки устойчивости из переменных окружения
func LoadResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		RequestTimeout:   GetEnvAsDuration("UPSTREAM_REQUEST_TIMEOUT", 5*time.Second),
		MaxAttempts:      GetEnvAsInt("UPSTREAM_RETRY_MAX_ATTEMPTS", 3),
		BaseDelay:        GetEnvAsDuration("UPSTREAM_RETRY_BASE_DELAY", 100*time.Millisecond),
		MaxDelay:         GetEnvAsDuration("UPSTREAM_RETRY_MAX_DELAY", 2*time.Second),
		BreakerThreshold: GetEnvAsInt("UPSTREAM_BREAKER_THRESHOLD", 5),
		BreakerCoolDown:  GetEnvAsDuration("UPSTREAM_BREAKER_COOLDOWN", 10*time.Second),
		SagaTimeout:      GetEnvAsDuration("ORDER_SAGA_TIMEOUT", 15*time.Second),
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
