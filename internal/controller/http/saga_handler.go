package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/director74/saga_tracker/internal/entity"
	apperrors "github.com/director74/saga_tracker/pkg/errors"
)

// SagaProvider интерфейс чтения состояния саг
type SagaProvider interface {
	GetSaga(ctx context.Context, sagaID string, includeSteps bool, limit, offset int) (entity.GetSagaResponse, error)
}

// SagaHandler обработчик HTTP запросов к состоянию саг
type SagaHandler struct {
	trackerUseCase SagaProvider
}

// NewSagaHandler создает новый обработчик запросов к сагам
func NewSagaHandler(trackerUseCase SagaProvider) *SagaHandler {
	return &SagaHandler{
		trackerUseCase: trackerUseCase,
	}
}

// RegisterRoutes регистрирует маршруты трекера. Публичная группа защищается
// сервисным JWT, внутренняя — ключом внутреннего API или доверенной сетью.
func (h *SagaHandler) RegisterRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc, internalMiddleware gin.HandlerFunc) {
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api/v1", authMiddleware)
	{
		api.GET("/sagas/:saga_id", h.GetSaga)
	}

	internalAPI := router.Group("/internal/api/v1", internalMiddleware)
	{
		internalAPI.GET("/sagas/:saga_id", h.GetSaga)
	}
}

// HealthCheck обрабатывает запрос на проверку работоспособности сервиса
func (h *SagaHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetSaga возвращает агрегат саги и, по запросу, страницу ее шагов
func (h *SagaHandler) GetSaga(c *gin.Context) {
	sagaID := c.Param("saga_id")

	includeSteps, err := strconv.ParseBool(c.DefaultQuery("includeSteps", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный includeSteps"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный limit"})
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный offset"})
		return
	}

	resp, err := h.trackerUseCase.GetSaga(c.Request.Context(), sagaID, includeSteps, limit, offset)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "sagaId": sagaID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
