package messaging

import (
	"log"

	"github.com/director74/orderflow/pkg/config"
	"github.com/director74/orderflow/pkg/rabbitmq"
)

// MessagePublisher интерфейс для публикации сообщений
type MessagePublisher interface {
	PublishMessage(exchange, routingKey string, message interface{}) error
	PublishMessageWithRetry(exchange, routingKey string, message interface{}, retries int) error
}

// InitRabbitMQ инициализирует подключение к RabbitMQ с общими параметрами
func InitRabbitMQ(cfg config.RabbitMQConfig) (*rabbitmq.RabbitMQ, error) {
	rmqCfg := rabbitmq.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		VHost:    cfg.VHost,
	}

	rmq, err := rabbitmq.NewRabbitMQ(rmqCfg)
	if err != nil {
		return nil, err
	}

	return rmq, nil
}

// SetupExchanges объявляет exchanges, необходимые сервису
func SetupExchanges(rmq *rabbitmq.RabbitMQ, exchanges map[string]string) error {
	for name, kind := range exchanges {
		if err := rmq.DeclareExchange(name, kind); err != nil {
			return err
		}
	}
	return nil
}

// PublishWithLogging публикует сообщение с логированием успеха/ошибки
func PublishWithLogging(publisher MessagePublisher, exchange, routingKey string, message interface{}) error {
	err := publisher.PublishMessage(exchange, routingKey, message)
	if err != nil {
		log.Printf("Ошибка при публикации сообщения в %s с ключом %s: %v", exchange, routingKey, err)
		return err
	}

	log.Printf("Сообщение успешно опубликовано в %s с ключом %s", exchange, routingKey)
	return nil
}
