package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/director74/saga_tracker/config"
	httpController "github.com/director74/saga_tracker/internal/controller/http"
	rabbitmqController "github.com/director74/saga_tracker/internal/controller/rabbitmq"
	"github.com/director74/saga_tracker/internal/entity"
	"github.com/director74/saga_tracker/internal/repo"
	"github.com/director74/saga_tracker/internal/usecase"
	"github.com/director74/saga_tracker/pkg/auth"
	"github.com/director74/saga_tracker/pkg/database"
	"github.com/director74/saga_tracker/pkg/errors"
	"github.com/director74/saga_tracker/pkg/messaging"
	"github.com/director74/saga_tracker/pkg/middleware"
	"github.com/director74/saga_tracker/pkg/rabbitmq"
)

// App представляет приложение
type App struct {
	config     *config.Config
	httpServer *http.Server
	db         *gorm.DB
	router     *gin.Engine
	rabbitMQ   *rabbitmq.RabbitMQ
}

func NewApp(cfg *config.Config) (*App, error) {
	// Инициализируем PostgreSQL
	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		return nil, errors.AppendPrefix(err, "не удалось подключиться к базе данных")
	}

	// Автомиграция: журнал шагов и агрегаты саг
	if err := database.AutoMigrateWithCleanup(db, &entity.SagaInstance{}, &entity.SagaStep{}); err != nil {
		return nil, errors.AppendPrefix(err, "не удалось выполнить миграцию")
	}

	// Инициализируем RabbitMQ
	rmq, err := messaging.InitRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		database.CloseDB(db)
		return nil, errors.AppendPrefix(err, "не удалось подключиться к RabbitMQ")
	}

	// Инициализируем Gin
	router := gin.Default()

	router.Use(errors.RecoveryMiddleware())
	router.Use(errors.ErrorMiddleware())
	router.NoRoute(errors.NotFoundHandler())
	router.NoMethod(errors.MethodNotAllowedHandler())

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
		router:     router,
		rabbitMQ:   rmq,
	}, nil
}

// Run запускает приложение
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация зависимостей ---
	sagaRepo := repo.NewSagaRepository(a.db)
	trackerUseCase := usecase.NewTrackerUseCase(sagaRepo)

	// --- Настройка RabbitMQ ---
	trackerConsumer := rabbitmqController.NewTrackerConsumer(trackerUseCase, a.rabbitMQ, &a.config.Consumer)

	if err := trackerConsumer.Setup(); err != nil {
		return errors.AppendPrefix(err, "ошибка при настройке tracker consumer")
	}

	// Цикл потребления работает в отдельной горутине; обработчики запросов
	// читают то же хранилище независимо от него
	go func() {
		if err := trackerConsumer.Run(ctx); err != nil {
			errors.LogError(err, "TrackerConsumer")
			cancel()
		}
	}()

	// --- Настройка HTTP ---
	jwtManager := auth.NewJWTManager(&auth.Config{
		SigningKey:     a.config.JWT.SigningKey,
		TokenTTL:       a.config.JWT.TokenTTL,
		TokenIssuer:    a.config.JWT.TokenIssuer,
		TokenAudiences: a.config.JWT.TokenAudiences,
	})
	authMiddleware := auth.NewAuthMiddleware(jwtManager)
	internalMiddleware := middleware.NewInternalAuthMiddleware(nil)

	sagaHandler := httpController.NewSagaHandler(trackerUseCase)
	sagaHandler.RegisterRoutes(a.router, authMiddleware.AuthRequired(), internalMiddleware.Required())

	// Запускаем HTTP сервер
	go func() {
		log.Printf("HTTP сервер запущен на порту %s", a.config.HTTP.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска HTTP сервера: %v", err)
		}
	}()

	// --- Ожидание завершения ---
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
	errGroup := errors.NewErrorGroup()

	// Закрываем HTTP сервер
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.httpServer.Shutdown(ctx); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии HTTP сервера")
		}
	}

	// Закрываем RabbitMQ
	if a.rabbitMQ != nil {
		if err := a.rabbitMQ.Close(); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии соединения с RabbitMQ")
		}
	}

	// Закрываем БД
	if a.db != nil {
		if err := database.CloseDB(a.db); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии соединения с базой данных")
		}
	}

	if errGroup.HasErrors() {
		errors.LogError(errGroup, "Shutdown")
		return errGroup
	}

	log.Println("Приложение успешно завершено")
	return nil
}
