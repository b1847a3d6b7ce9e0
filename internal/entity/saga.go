package entity

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SagaStatus представляет агрегированный статус саги
type SagaStatus string

const (
	SagaStatusInProgress   SagaStatus = "InProgress"
	SagaStatusCompleted    SagaStatus = "Completed"
	SagaStatusCompensating SagaStatus = "Compensating"
)

// NextStatus вычисляет статус саги по последнему примененному шагу.
// Порядок правил важен: шаг с типом на "Completed", но со статусом failed,
// переводит сагу в Compensating, а не в Completed.
func NextStatus(eventType, eventStatus string) SagaStatus {
	if strings.HasSuffix(eventType, "Completed") && strings.EqualFold(eventStatus, "success") {
		return SagaStatusCompleted
	}
	if strings.EqualFold(eventStatus, "failed") {
		return SagaStatusCompensating
	}
	return SagaStatusInProgress
}

// SagaInstance представляет агрегированное состояние одной саги.
// Создается первым событием и только мутируется дальше, никогда не удаляется.
type SagaInstance struct {
	SagaID      string     `gorm:"primaryKey;type:varchar(64)"`
	BusinessKey string     `gorm:"type:varchar(128)"`
	Type        string     `gorm:"type:varchar(64)"`
	Status      SagaStatus `gorm:"not null;type:varchar(24);default:InProgress"`
	StartedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
	LastEventID string     `gorm:"type:varchar(64)"`
	// RetriesTotal зарезервировано, трекер его не инкрементирует
	RetriesTotal int `gorm:"not null;default:0"`
}

// TableName задает имя таблицы для GORM
func (SagaInstance) TableName() string {
	return "saga_instance"
}

// SagaStep представляет одну запись append-only журнала шагов саги.
// Составной уникальный индекс (saga_id, seq) гарантирует, что гонка при
// назначении порядкового номера упадет с ошибкой, а не запишет дубликат.
type SagaStep struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	SagaID     string         `gorm:"not null;type:varchar(64);index;uniqueIndex:idx_saga_step_saga_seq"`
	Seq        int            `gorm:"not null;uniqueIndex:idx_saga_step_saga_seq"`
	EventID    string         `gorm:"not null;type:varchar(64);uniqueIndex"`
	Topic      string         `gorm:"not null;type:varchar(128)"`
	Service    string         `gorm:"not null;type:varchar(64)"`
	Step       string         `gorm:"not null;type:varchar(64)"`
	Status     string         `gorm:"not null;type:varchar(24)"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	TsEvent    time.Time      `gorm:"not null"`
	TsIngested time.Time      `gorm:"not null;default:now()"`
}

// TableName задает имя таблицы для GORM
func (SagaStep) TableName() string {
	return "saga_step"
}

// GetSagaInstanceResponse агрегат саги в ответе API
type GetSagaInstanceResponse struct {
	SagaID       string     `json:"sagaId"`
	BusinessKey  string     `json:"businessKey"`
	Type         string     `json:"type"`
	Status       SagaStatus `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastEventID  string     `json:"lastEventId"`
	RetriesTotal int        `json:"retriesTotal"`
}

// GetSagaStepResponse шаг саги в ответе API
type GetSagaStepResponse struct {
	ID         uint           `json:"id"`
	Seq        int            `json:"seq"`
	EventID    string         `json:"eventId"`
	Topic      string         `json:"topic"`
	Service    string         `json:"service"`
	EventType  string         `json:"eventType"`
	Status     string         `json:"status"`
	Payload    datatypes.JSON `json:"payload"`
	TsEvent    time.Time      `json:"tsEvent"`
	TsIngested time.Time      `json:"tsIngested"`
}

// PaginationResponse эхо параметров постраничного чтения
type PaginationResponse struct {
	Limit    int `json:"limit"`
	Offset   int `json:"offset"`
	Returned int `json:"returned"`
}

// GetSagaResponse полный ответ на запрос саги
type GetSagaResponse struct {
	Instance   GetSagaInstanceResponse `json:"instance"`
	Steps      []GetSagaStepResponse   `json:"steps,omitempty"`
	Pagination *PaginationResponse     `json:"pagination,omitempty"`
}
