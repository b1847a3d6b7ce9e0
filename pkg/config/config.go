package config

import (
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"log"

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

// JWTConfig содержит настройки для JWT
type JWTConfig struct {
	SigningKey     string
	TokenTTL       time.Duration
	TokenIssuer    string
	TokenAudiences []string
}

// ConsumerConfig содержит настройки цикла потребления событий саг
type ConsumerConfig struct {
	// Queue очередь, из которой трекер читает события
	Queue string
	// Exchanges список topic-обменников с событиями саг (аналог списка топиков)
	Exchanges []string
	// RoutingKey ключ привязки очереди к обменникам
	RoutingKey string
	// ReceiveTimeout ограниченное ожидание одного сообщения за тик
	ReceiveTimeout time.Duration
	// IdleDelay пауза между тиками цикла
	IdleDelay time.Duration
	// MaxDeliveryAttempts порог попыток, после которого сообщение уходит в DLQ
	MaxDeliveryAttempts int
	// DLQExchange обменник для ядовитых сообщений
	DLQExchange string
	// DLQQueue очередь для ядовитых сообщений
	DLQQueue string
	// DLQRoutingKey ключ маршрутизации для DLQ
	DLQRoutingKey string
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

// LoadJWTConfig загружает конфигурацию JWT из переменных окружения
func LoadJWTConfig(serviceName string) *JWTConfig {
	signingKey := GetEnv("JWT_SIGNING_KEY", "")
	if signingKey == "" {
		// Генерируем случайный ключ, если не задан
		signingKey = GenerateRandomKey(32)
		log.Println("ВНИМАНИЕ: JWT_SIGNING_KEY не задан! Сгенерирован случайный ключ. Для проверки токенов других сервисов необходимо указать одинаковый JWT_SIGNING_KEY во всех сервисах.")
	}

	return &JWTConfig{
		SigningKey:     signingKey,
		TokenTTL:       GetEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
		TokenIssuer:    GetEnv("JWT_TOKEN_ISSUER", serviceName),
		TokenAudiences: strings.Split(GetEnv("JWT_TOKEN_AUDIENCES", "microservices"), ","),
	}
}

// LoadConsumerConfig загружает конфигурацию цикла потребления из переменных окружения
func LoadConsumerConfig() *ConsumerConfig {
	exchanges := make([]string, 0)
	for _, e := range strings.Split(GetEnv("TRACKED_EXCHANGES", "saga_events"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			exchanges = append(exchanges, e)
		}
	}

	return &ConsumerConfig{
		Queue:               GetEnv("CONSUMER_QUEUE", "saga_tracker_queue"),
		Exchanges:           exchanges,
		RoutingKey:          GetEnv("CONSUMER_ROUTING_KEY", "#"),
		ReceiveTimeout:      GetEnvAsDuration("RECEIVE_TIMEOUT", time.Second),
		IdleDelay:           GetEnvAsDuration("IDLE_DELAY", 50*time.Millisecond),
		MaxDeliveryAttempts: GetEnvAsInt("MAX_DELIVERY_ATTEMPTS", 5),
		DLQExchange:         GetEnv("DLQ_EXCHANGE", "saga_tracker_dlx"),
		DLQQueue:            GetEnv("DLQ_QUEUE", "saga_tracker_dead_letter"),
		DLQRoutingKey:       GetEnv("DLQ_ROUTING_KEY", "dead"),
	}
}

// GenerateRandomKey генерирует случайный ключ заданной длины
func GenerateRandomKey(length int) string {
	// Инициализируем генератор случайных чисел
	rand.Seed(time.Now().UnixNano())

	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
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
