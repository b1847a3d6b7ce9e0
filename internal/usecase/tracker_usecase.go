package usecase

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/director74/saga_tracker/internal/entity"
	apperrors "github.com/director74/saga_tracker/pkg/errors"
	"github.com/director74/saga_tracker/pkg/sagaevent"
)

// Границы размера страницы шагов; значения вне диапазона молча обрезаются
const (
	minStepsLimit = 1
	maxStepsLimit = 1000
)

// TrackerUseCase наблюдает за прогрессом саг: принимает события,
// ведет журнал шагов и отдает агрегированное состояние
type TrackerUseCase struct {
	repo SagaRepository
}

// NewTrackerUseCase создает новый use case трекера саг
func NewTrackerUseCase(repo SagaRepository) *TrackerUseCase {
	return &TrackerUseCase{
		repo: repo,
	}
}

// ProcessEvent обрабатывает одно событие: декодирование, вычисление нового
// статуса и транзакционная запись шага с обновлением агрегата.
// Возвращает sagaevent.ErrDecode на неразборчивом теле и
// apperrors.ErrDuplicate на повторной доставке уже записанного события.
func (uc *TrackerUseCase) ProcessEvent(ctx context.Context, body []byte, topic string) error {
	event, err := sagaevent.Decode(body, topic)
	if err != nil {
		return err
	}

	newStatus := entity.NextStatus(event.EventType, event.Status)

	step := &entity.SagaStep{
		SagaID:  event.SagaID,
		EventID: event.EventID,
		Topic:   event.Topic,
		Service: event.Service,
		Step:    event.EventType,
		Status:  event.Status,
		Payload: datatypes.JSON(event.Payload),
		TsEvent: event.Timestamp,
	}

	return uc.repo.RecordStep(ctx, step, newStatus, event.BusinessKey)
}

// GetSaga возвращает агрегат саги и, при includeSteps, страницу шагов
// в порядке возрастания seq. Отсутствие саги — apperrors.ErrNotFound.
func (uc *TrackerUseCase) GetSaga(ctx context.Context, sagaID string, includeSteps bool, limit, offset int) (entity.GetSagaResponse, error) {
	instance, err := uc.repo.GetInstance(ctx, sagaID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.GetSagaResponse{}, apperrors.ErrNotFound
		}
		return entity.GetSagaResponse{}, err
	}

	response := entity.GetSagaResponse{
		Instance: entity.GetSagaInstanceResponse{
			SagaID:       instance.SagaID,
			BusinessKey:  instance.BusinessKey,
			Type:         instance.Type,
			Status:       instance.Status,
			StartedAt:    instance.StartedAt,
			UpdatedAt:    instance.UpdatedAt,
			LastEventID:  instance.LastEventID,
			RetriesTotal: instance.RetriesTotal,
		},
	}

	if !includeSteps {
		return response, nil
	}

	effectiveLimit := limit
	if effectiveLimit < minStepsLimit {
		effectiveLimit = minStepsLimit
	}
	if effectiveLimit > maxStepsLimit {
		effectiveLimit = maxStepsLimit
	}
	effectiveOffset := offset
	if effectiveOffset < 0 {
		effectiveOffset = 0
	}

	steps, err := uc.repo.ListSteps(ctx, sagaID, effectiveLimit, effectiveOffset)
	if err != nil {
		return entity.GetSagaResponse{}, err
	}

	response.Steps = make([]entity.GetSagaStepResponse, 0, len(steps))
	for _, s := range steps {
		response.Steps = append(response.Steps, entity.GetSagaStepResponse{
			ID:         s.ID,
			Seq:        s.Seq,
			EventID:    s.EventID,
			Topic:      s.Topic,
			Service:    s.Service,
			EventType:  s.Step,
			Status:     s.Status,
			Payload:    s.Payload,
			TsEvent:    s.TsEvent,
			TsIngested: s.TsIngested,
		})
	}

	// В эхо возвращаются запрошенные значения, обрезка действует только на запрос к БД
	response.Pagination = &entity.PaginationResponse{
		Limit:    limit,
		Offset:   offset,
		Returned: len(steps),
	}

	return response, nil
}
