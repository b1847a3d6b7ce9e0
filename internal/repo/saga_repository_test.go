package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/director74/saga_tracker/internal/entity"
	apperrors "github.com/director74/saga_tracker/pkg/errors"
)

// newMockDB поднимает GORM поверх sqlmock без реального подключения
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	return db, mock
}

func TestGetInstance_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db)

	started := time.Date(2025, 9, 20, 13, 37, 11, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"saga_id", "business_key", "type", "status", "started_at", "updated_at", "last_event_id", "retries_total"}).
		AddRow("s1", "bk-1", "OrderCreated", "InProgress", started, started, "e1", 0)

	mock.ExpectQuery(`SELECT (.+) FROM "saga_instance" WHERE saga_id = (.+)`).WillReturnRows(rows)

	instance, err := repo.GetInstance(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "s1", instance.SagaID)
	assert.Equal(t, entity.SagaStatusInProgress, instance.Status)
	assert.Equal(t, "e1", instance.LastEventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInstance_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db)

	rows := sqlmock.NewRows([]string{"saga_id", "business_key", "type", "status", "started_at", "updated_at", "last_event_id", "retries_total"})
	mock.ExpectQuery(`SELECT (.+) FROM "saga_instance" WHERE saga_id = (.+)`).WillReturnRows(rows)

	instance, err := repo.GetInstance(context.Background(), "нет-такой")
	assert.Nil(t, instance)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSteps_OrderedPage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db)

	ingested := time.Date(2025, 9, 20, 13, 40, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "saga_id", "seq", "event_id", "topic", "service", "step", "status", "payload", "ts_event", "ts_ingested"}).
		AddRow(1, "s1", 1, "e1", "saga_events", "payment", "PaymentReserved", "Success", []byte(`{"amount": 10}`), ingested, ingested).
		AddRow(2, "s1", 2, "e2", "saga_events", "delivery", "DeliveryScheduled", "Success", []byte(`"unknown"`), ingested, ingested)

	mock.ExpectQuery(`SELECT (.+) FROM "saga_step" WHERE saga_id = (.+) ORDER BY seq ASC`).WillReturnRows(rows)

	steps, err := repo.ListSteps(context.Background(), "s1", 100, 0)
	require.NoError(t, err)

	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Seq)
	assert.Equal(t, "PaymentReserved", steps[0].Step)
	assert.Equal(t, 2, steps[1].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSteps_EmptyPage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db)

	rows := sqlmock.NewRows([]string{"id", "saga_id", "seq", "event_id", "topic", "service", "step", "status", "payload", "ts_event", "ts_ingested"})
	mock.ExpectQuery(`SELECT (.+) FROM "saga_step" WHERE saga_id = (.+)`).WillReturnRows(rows)

	steps, err := repo.ListSteps(context.Background(), "s1", 100, 500)
	require.NoError(t, err)
	assert.Empty(t, steps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newStepFixture() *entity.SagaStep {
	return &entity.SagaStep{
		SagaID:  "s1",
		EventID: "e1",
		Topic:   "saga_events",
		Service: "payment",
		Step:    "PaymentReserved",
		Status:  "Success",
		Payload: []byte(`{"amount": 10}`),
		TsEvent: time.Date(2025, 9, 20, 13, 37, 11, 0, time.UTC),
	}
}

// expectRecordStepConflict готовит транзакцию, в которой вставка шага
// падает с нарушением уникальности и откатывается
func expectRecordStepConflict(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT coalesce\(max\(seq\), 0\) FROM "saga_step" WHERE saga_id = (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectQuery(`INSERT INTO "saga_step" (.+)`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()
}

func TestRecordStep_DuplicateEventIDIsBenign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db)

	expectRecordStepConflict(mock)
	// Шаг с таким event_id уже записан ранее: повторная доставка
	mock.ExpectQuery(`SELECT count\(\*\) FROM "saga_step" WHERE event_id = (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.RecordStep(context.Background(), newStepFixture(), entity.SagaStatusInProgress, "bk-1")

	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStep_SeqCollisionIsNotBenign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db)

	expectRecordStepConflict(mock)
	// event_id в журнале отсутствует: конфликт пришел от индекса (saga_id, seq)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "saga_step" WHERE event_id = (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.RecordStep(context.Background(), newStepFixture(), entity.SagaStatusInProgress, "bk-1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrDuplicate)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}
