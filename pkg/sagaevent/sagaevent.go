package sagaevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDecode ошибка разбора входящего сообщения. Отличается от ошибок
// хранилища: такое сообщение не станет валидным при повторной доставке.
var ErrDecode = errors.New("не удалось разобрать сообщение события")

// Unknown значение по умолчанию для отсутствующих полей события
const Unknown = "unknown"

// Статусы события на уровне шага
const (
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

// RawEvent представляет контракт входящего сообщения (все поля необязательны)
type RawEvent struct {
	SagaID        string          `json:"saga_id"`
	CorrelationID string          `json:"correlation_id"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Service       string          `json:"service"`
	Status        string          `json:"status"`
	BusinessKey   string          `json:"business_key"`
	Timestamp     string          `json:"timestamp"`
}

// Event нормализованное событие саги после применения значений по умолчанию
type Event struct {
	SagaID      string
	EventID     string
	EventType   string
	Service     string
	Status      string
	BusinessKey string
	Payload     json.RawMessage
	Topic       string
	Timestamp   time.Time
}

// Decode разбирает тело сообщения и нормализует его. Ошибка парсинга JSON —
// жесткий отказ (ErrDecode); отсутствующие поля заполняются детерминированными
// значениями, некорректная временная метка заменяется текущим временем.
func Decode(body []byte, topic string) (Event, error) {
	var raw RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	ev := Event{
		SagaID:      firstNonEmpty(raw.SagaID, raw.CorrelationID, Unknown),
		EventID:     raw.EventID,
		EventType:   firstNonEmpty(raw.EventType, Unknown),
		Service:     firstNonEmpty(raw.Service, Unknown),
		Payload:     raw.EventData,
		Topic:       topic,
		Timestamp:   parseTimestamp(raw.Timestamp),
		BusinessKey: raw.BusinessKey,
	}

	if ev.EventID == "" {
		// Синтезированный идентификатор уникален на каждую доставку, поэтому
		// дедупликация для таких событий не работает
		ev.EventID = uuid.NewString()
	}

	if ev.BusinessKey == "" {
		ev.BusinessKey = ev.EventID
	}

	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage(`"` + Unknown + `"`)
	}

	ev.Status = raw.Status
	if ev.Status == "" {
		if strings.Contains(ev.EventType, "failed") {
			ev.Status = StatusFailed
		} else {
			ev.Status = StatusSuccess
		}
	}

	return ev, nil
}

// parseTimestamp разбирает временную метку продьюсера; на пустом или
// некорректном значении возвращает текущее время
func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}

	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}

	return time.Now().UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
