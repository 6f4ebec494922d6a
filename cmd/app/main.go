package main

import (
	"log"

	"github.com/director74/orderflow/config"
	"github.com/director74/orderflow/internal/app"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Ошибка инициализации приложения: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Ошибка при работе приложения: %v", err)
	}
}
