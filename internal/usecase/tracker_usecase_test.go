package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/director74/saga_tracker/internal/entity"
	apperrors "github.com/director74/saga_tracker/pkg/errors"
	"github.com/director74/saga_tracker/pkg/sagaevent"
)

// Мок для SagaRepository
type MockSagaRepository struct {
	mock.Mock
}

func (m *MockSagaRepository) RecordStep(ctx context.Context, step *entity.SagaStep, newStatus entity.SagaStatus, businessKey string) error {
	args := m.Called(ctx, step, newStatus, businessKey)
	return args.Error(0)
}

func (m *MockSagaRepository) GetInstance(ctx context.Context, sagaID string) (*entity.SagaInstance, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SagaInstance), args.Error(1)
}

func (m *MockSagaRepository) ListSteps(ctx context.Context, sagaID string, limit, offset int) ([]entity.SagaStep, error) {
	args := m.Called(ctx, sagaID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.SagaStep), args.Error(1)
}

func TestProcessEvent_CompletedTransition(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	var recorded *entity.SagaStep
	mockRepo.On("RecordStep", mock.Anything, mock.AnythingOfType("*entity.SagaStep"), entity.SagaStatusCompleted, "evt-1").
		Run(func(args mock.Arguments) {
			recorded = args.Get(1).(*entity.SagaStep)
		}).Return(nil)

	body := []byte(`{"saga_id": "s1", "event_id": "evt-1", "event_type": "OrderCompleted", "status": "Success", "service": "order"}`)
	err := uc.ProcessEvent(context.Background(), body, "saga_events")
	require.NoError(t, err)

	mockRepo.AssertExpectations(t)
	require.NotNil(t, recorded)
	assert.Equal(t, "s1", recorded.SagaID)
	assert.Equal(t, "evt-1", recorded.EventID)
	assert.Equal(t, "OrderCompleted", recorded.Step)
	assert.Equal(t, "Success", recorded.Status)
	assert.Equal(t, "saga_events", recorded.Topic)
	assert.Equal(t, "order", recorded.Service)
}

func TestProcessEvent_FailedTransition(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	mockRepo.On("RecordStep", mock.Anything, mock.Anything, entity.SagaStatusCompensating, mock.Anything).Return(nil)

	body := []byte(`{"saga_id": "s2", "event_type": "PaymentFailed", "status": "Failed"}`)
	err := uc.ProcessEvent(context.Background(), body, "saga_events")
	require.NoError(t, err)

	mockRepo.AssertExpectations(t)
}

func TestProcessEvent_DecodeErrorSkipsRepository(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	err := uc.ProcessEvent(context.Background(), []byte("не json"), "saga_events")
	require.Error(t, err)
	assert.ErrorIs(t, err, sagaevent.ErrDecode)

	// Репозиторий не вызывался: ошибка декодирования — терминальная для сообщения
	mockRepo.AssertNotCalled(t, "RecordStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEvent_DuplicatePassthrough(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	mockRepo.On("RecordStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(apperrors.ErrDuplicate)

	body := []byte(`{"saga_id": "s1", "event_id": "evt-1", "event_type": "OrderCreated"}`)
	err := uc.ProcessEvent(context.Background(), body, "saga_events")
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestGetSaga_NotFound(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	mockRepo.On("GetInstance", mock.Anything, "нет-такой").Return(nil, gorm.ErrRecordNotFound)

	_, err := uc.GetSaga(context.Background(), "нет-такой", true, 100, 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetSaga_WithoutSteps(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	instance := &entity.SagaInstance{
		SagaID:      "s1",
		Type:        "OrderCreated",
		Status:      entity.SagaStatusInProgress,
		StartedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		LastEventID: "evt-1",
	}
	mockRepo.On("GetInstance", mock.Anything, "s1").Return(instance, nil)

	resp, err := uc.GetSaga(context.Background(), "s1", false, 100, 0)
	require.NoError(t, err)

	assert.Equal(t, "s1", resp.Instance.SagaID)
	assert.Equal(t, entity.SagaStatusInProgress, resp.Instance.Status)
	assert.Nil(t, resp.Steps)
	assert.Nil(t, resp.Pagination)
	mockRepo.AssertNotCalled(t, "ListSteps", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetSaga_LimitClamping(t *testing.T) {
	testCases := []struct {
		name           string
		requested      int
		expectedInRepo int
	}{
		{"завышенный limit обрезается до 1000", 5000, 1000},
		{"нулевой limit поднимается до 1", 0, 1},
		{"отрицательный limit поднимается до 1", -10, 1},
		{"обычный limit не меняется", 50, 50},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := new(MockSagaRepository)
			uc := NewTrackerUseCase(mockRepo)

			instance := &entity.SagaInstance{SagaID: "s1", Status: entity.SagaStatusInProgress}
			mockRepo.On("GetInstance", mock.Anything, "s1").Return(instance, nil)
			mockRepo.On("ListSteps", mock.Anything, "s1", tc.expectedInRepo, 0).Return([]entity.SagaStep{}, nil)

			resp, err := uc.GetSaga(context.Background(), "s1", true, tc.requested, 0)
			require.NoError(t, err)

			// Эхо пагинации возвращает запрошенное значение, а не обрезанное
			require.NotNil(t, resp.Pagination)
			assert.Equal(t, tc.requested, resp.Pagination.Limit)
			assert.Equal(t, 0, resp.Pagination.Returned)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestGetSaga_PaginationEcho(t *testing.T) {
	mockRepo := new(MockSagaRepository)
	uc := NewTrackerUseCase(mockRepo)

	instance := &entity.SagaInstance{SagaID: "s1", Status: entity.SagaStatusCompleted}
	steps := []entity.SagaStep{
		{ID: 1, SagaID: "s1", Seq: 2, EventID: "evt-2", Step: "OrderCompleted", Status: "Success"},
	}
	mockRepo.On("GetInstance", mock.Anything, "s1").Return(instance, nil)
	mockRepo.On("ListSteps", mock.Anything, "s1", 1, 1).Return(steps, nil)

	resp, err := uc.GetSaga(context.Background(), "s1", true, 1, 1)
	require.NoError(t, err)

	require.Len(t, resp.Steps, 1)
	assert.Equal(t, 2, resp.Steps[0].Seq)
	assert.Equal(t, "OrderCompleted", resp.Steps[0].EventType)
	assert.Equal(t, &entity.PaginationResponse{Limit: 1, Offset: 1, Returned: 1}, resp.Pagination)
}

// fakeSagaRepository хранит состояние в памяти и воспроизводит контракт
// реального репозитория: выдача seq, дедупликация по event_id, upsert агрегата
type fakeSagaRepository struct {
	steps     map[string][]entity.SagaStep
	instances map[string]*entity.SagaInstance
	eventIDs  map[string]bool
	nextID    uint
}

func newFakeSagaRepository() *fakeSagaRepository {
	return &fakeSagaRepository{
		steps:     make(map[string][]entity.SagaStep),
		instances: make(map[string]*entity.SagaInstance),
		eventIDs:  make(map[string]bool),
	}
}

func (f *fakeSagaRepository) RecordStep(ctx context.Context, step *entity.SagaStep, newStatus entity.SagaStatus, businessKey string) error {
	if f.eventIDs[step.EventID] {
		return apperrors.ErrDuplicate
	}
	f.eventIDs[step.EventID] = true

	f.nextID++
	step.ID = f.nextID
	step.Seq = len(f.steps[step.SagaID]) + 1
	f.steps[step.SagaID] = append(f.steps[step.SagaID], *step)

	now := time.Now().UTC()
	if instance, ok := f.instances[step.SagaID]; ok {
		instance.Status = newStatus
		instance.UpdatedAt = now
		instance.LastEventID = step.EventID
	} else {
		f.instances[step.SagaID] = &entity.SagaInstance{
			SagaID:      step.SagaID,
			BusinessKey: businessKey,
			Type:        step.Step,
			Status:      newStatus,
			StartedAt:   now,
			UpdatedAt:   now,
			LastEventID: step.EventID,
		}
	}
	return nil
}

func (f *fakeSagaRepository) GetInstance(ctx context.Context, sagaID string) (*entity.SagaInstance, error) {
	instance, ok := f.instances[sagaID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return instance, nil
}

func (f *fakeSagaRepository) ListSteps(ctx context.Context, sagaID string, limit, offset int) ([]entity.SagaStep, error) {
	steps := f.steps[sagaID]
	if offset >= len(steps) {
		return []entity.SagaStep{}, nil
	}
	end := offset + limit
	if end > len(steps) {
		end = len(steps)
	}
	return steps[offset:end], nil
}

func TestEndToEnd_InProgressAfterTwoEvents(t *testing.T) {
	repo := newFakeSagaRepository()
	uc := NewTrackerUseCase(repo)
	ctx := context.Background()

	require.NoError(t, uc.ProcessEvent(ctx, []byte(`{"saga_id": "s1", "event_id": "e1", "event_type": "PaymentCompleted", "status": "Success"}`), "saga_events"))
	require.NoError(t, uc.ProcessEvent(ctx, []byte(`{"saga_id": "s1", "event_id": "e2", "event_type": "ShippingStarted", "status": "Success"}`), "saga_events"))

	resp, err := uc.GetSaga(ctx, "s1", true, 100, 0)
	require.NoError(t, err)

	// Второе событие не оканчивается на Completed, сага снова InProgress
	assert.Equal(t, entity.SagaStatusInProgress, resp.Instance.Status)
	assert.Equal(t, "e2", resp.Instance.LastEventID)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, 1, resp.Steps[0].Seq)
	assert.Equal(t, 2, resp.Steps[1].Seq)
}

func TestEndToEnd_CompensatingAfterFailure(t *testing.T) {
	repo := newFakeSagaRepository()
	uc := NewTrackerUseCase(repo)
	ctx := context.Background()

	require.NoError(t, uc.ProcessEvent(ctx, []byte(`{"saga_id": "s2", "event_id": "e1", "event_type": "PaymentFailed", "status": "Failed"}`), "saga_events"))

	resp, err := uc.GetSaga(ctx, "s2", true, 100, 0)
	require.NoError(t, err)

	assert.Equal(t, entity.SagaStatusCompensating, resp.Instance.Status)
	require.Len(t, resp.Steps, 1)
}

func TestEndToEnd_SequencesAreContiguousPerSaga(t *testing.T) {
	repo := newFakeSagaRepository()
	uc := NewTrackerUseCase(repo)
	ctx := context.Background()

	// Чередуем доставку событий двух саг
	for i := 1; i <= 5; i++ {
		bodyA := []byte(fmt.Sprintf(`{"saga_id": "a", "event_id": "a-%d", "event_type": "StepDone"}`, i))
		bodyB := []byte(fmt.Sprintf(`{"saga_id": "b", "event_id": "b-%d", "event_type": "StepDone"}`, i))
		require.NoError(t, uc.ProcessEvent(ctx, bodyA, "saga_events"))
		require.NoError(t, uc.ProcessEvent(ctx, bodyB, "saga_events"))
	}

	for _, sagaID := range []string{"a", "b"} {
		resp, err := uc.GetSaga(ctx, sagaID, true, 100, 0)
		require.NoError(t, err)
		require.Len(t, resp.Steps, 5)
		for i, step := range resp.Steps {
			assert.Equal(t, i+1, step.Seq, "saga %s: seq должен идти без пропусков", sagaID)
		}
	}
}

func TestEndToEnd_RedeliveryCreatesNoStep(t *testing.T) {
	repo := newFakeSagaRepository()
	uc := NewTrackerUseCase(repo)
	ctx := context.Background()

	body := []byte(`{"saga_id": "s1", "event_id": "e1", "event_type": "OrderCreated", "status": "Success"}`)
	require.NoError(t, uc.ProcessEvent(ctx, body, "saga_events"))

	// Повторная доставка того же event_id
	err := uc.ProcessEvent(ctx, body, "saga_events")
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)

	resp, err := uc.GetSaga(ctx, "s1", true, 100, 0)
	require.NoError(t, err)
	assert.Len(t, resp.Steps, 1)
	assert.Equal(t, entity.SagaStatusInProgress, resp.Instance.Status)
}
