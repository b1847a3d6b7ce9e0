package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/director74/saga_tracker/internal/entity"
	apperrors "github.com/director74/saga_tracker/pkg/errors"
)

// SagaRepository доступ к хранилищу саг с использованием GORM
type SagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository создает новый экземпляр репозитория саг
func NewSagaRepository(db *gorm.DB) *SagaRepository {
	return &SagaRepository{db: db}
}

// RecordStep записывает шаг саги и обновляет агрегат в одной транзакции:
// чтение max(seq), вставка шага и upsert экземпляра фиксируются вместе,
// чтобы подтверждение сообщения опиралось на единый коммит.
// Повторная доставка уже записанного event_id возвращает apperrors.ErrDuplicate.
func (r *SagaRepository) RecordStep(ctx context.Context, step *entity.SagaStep, newStatus entity.SagaStatus, businessKey string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&entity.SagaStep{}).
			Where("saga_id = ?", step.SagaID).
			Select("coalesce(max(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("ошибка чтения максимального seq для саги %s: %w", step.SagaID, err)
		}
		step.Seq = maxSeq + 1

		if step.TsIngested.IsZero() {
			step.TsIngested = time.Now().UTC()
		}

		if err := tx.Create(step).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		var instance entity.SagaInstance
		err := tx.First(&instance, "saga_id = ?", step.SagaID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			instance = entity.SagaInstance{
				SagaID:      step.SagaID,
				BusinessKey: businessKey,
				Type:        step.Step,
				Status:      newStatus,
				StartedAt:   now,
				UpdatedAt:   now,
				LastEventID: step.EventID,
			}
			if err := tx.Create(&instance).Error; err != nil {
				return fmt.Errorf("ошибка создания экземпляра саги %s: %w", step.SagaID, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения экземпляра саги %s: %w", step.SagaID, err)
		}

		// type, business_key и started_at неизменяемы после создания
		if err := tx.Model(&entity.SagaInstance{}).
			Where("saga_id = ?", step.SagaID).
			Updates(map[string]interface{}{
				"status":        newStatus,
				"updated_at":    now,
				"last_event_id": step.EventID,
			}).Error; err != nil {
			return fmt.Errorf("ошибка обновления экземпляра саги %s: %w", step.SagaID, err)
		}
		return nil
	})

	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Нарушение уникальности могло прийти и от индекса (saga_id, seq).
		// Доброкачественный дубль только тот, чей event_id уже записан.
		var count int64
		countErr := r.db.WithContext(ctx).Model(&entity.SagaStep{}).
			Where("event_id = ?", step.EventID).
			Count(&count).Error
		if countErr == nil && count > 0 {
			return apperrors.ErrDuplicate
		}
		return fmt.Errorf("конфликт уникальности при записи шага саги %s (seq %d): %w", step.SagaID, step.Seq, err)
	}

	return err
}

// GetInstance получает экземпляр саги по ее ID
func (r *SagaRepository) GetInstance(ctx context.Context, sagaID string) (*entity.SagaInstance, error) {
	var instance entity.SagaInstance
	result := r.db.WithContext(ctx).First(&instance, "saga_id = ?", sagaID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, result.Error
		}
		return nil, fmt.Errorf("ошибка получения экземпляра саги %s: %w", sagaID, result.Error)
	}
	return &instance, nil
}

// ListSteps возвращает страницу шагов саги в порядке возрастания seq
func (r *SagaRepository) ListSteps(ctx context.Context, sagaID string, limit, offset int) ([]entity.SagaStep, error) {
	var steps []entity.SagaStep
	err := r.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения шагов саги %s: %w", sagaID, err)
	}
	return steps, nil
}
