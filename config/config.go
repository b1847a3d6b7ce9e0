package config

import (
	"github.com/director74/saga_tracker/pkg/config"
)

// Config содержит конфигурацию трекера саг
type Config struct {
	HTTP     config.HTTPConfig
	Postgres config.PostgresConfig
	RabbitMQ config.RabbitMQConfig
	JWT      config.JWTConfig
	Consumer config.ConsumerConfig
}

func NewConfig() (*Config, error) {
	// Загружаем общую конфигурацию
	commonConfig := config.LoadCommonConfig("saga_tracker", "8090")
	jwtConfig := config.LoadJWTConfig("saga-tracker")
	consumerConfig := config.LoadConsumerConfig()

	return &Config{
		HTTP:     commonConfig.HTTP,
		Postgres: commonConfig.Postgres,
		RabbitMQ: commonConfig.RabbitMQ,
		JWT:      *jwtConfig,
		Consumer: *consumerConfig,
	}, nil
}
