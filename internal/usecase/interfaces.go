package usecase

import (
	"context"

	"github.com/director74/saga_tracker/internal/entity"
)

// SagaRepository интерфейс хранилища саг
type SagaRepository interface {
	RecordStep(ctx context.Context, step *entity.SagaStep, newStatus entity.SagaStatus, businessKey string) error
	GetInstance(ctx context.Context, sagaID string) (*entity.SagaInstance, error)
	ListSteps(ctx context.Context, sagaID string, limit, offset int) ([]entity.SagaStep, error)
}
