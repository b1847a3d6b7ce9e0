package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/director74/saga_tracker/pkg/config"
	apperrors "github.com/director74/saga_tracker/pkg/errors"
	"github.com/director74/saga_tracker/pkg/messaging"
	"github.com/director74/saga_tracker/pkg/sagaevent"
)

// EventProcessor интерфейс обработки одного события трекером
type EventProcessor interface {
	ProcessEvent(ctx context.Context, body []byte, topic string) error
}

// TrackerConsumer цикл потребления событий саг. Один такой потребитель
// работает в собственной горутине и обрабатывает строго по одному сообщению
// за тик: получение с ограниченным ожиданием, запись, подтверждение.
type TrackerConsumer struct {
	processor  EventProcessor
	broker     messaging.MessageBroker
	cfg        *config.ConsumerConfig
	logger     *log.Logger
	deliveries <-chan amqp.Delivery
	// attempts счетчики доставок по отпечатку сообщения для отправки в DLQ
	attempts map[string]int
}

// NewTrackerConsumer создает новый потребитель событий саг
func NewTrackerConsumer(processor EventProcessor, broker messaging.MessageBroker, cfg *config.ConsumerConfig) *TrackerConsumer {
	logger := log.New(log.Writer(), "[SagaTracker] [Consumer] ", log.LstdFlags)
	return &TrackerConsumer{
		processor: processor,
		broker:    broker,
		cfg:       cfg,
		logger:    logger,
		attempts:  make(map[string]int),
	}
}

// Setup объявляет топологию: отслеживаемые обменники, очередь трекера с
// привязками и обменник с очередью для ядовитых сообщений
func (c *TrackerConsumer) Setup() error {
	exchanges := map[string]string{
		c.cfg.DLQExchange: "direct",
	}
	for _, name := range c.cfg.Exchanges {
		exchanges[name] = "topic"
	}

	queues := map[string]map[string]string{
		c.cfg.Queue:    {},
		c.cfg.DLQQueue: {c.cfg.DLQExchange: c.cfg.DLQRoutingKey},
	}
	for _, name := range c.cfg.Exchanges {
		queues[c.cfg.Queue][name] = c.cfg.RoutingKey
	}

	if err := messaging.SetupExchangesAndQueues(c.broker, exchanges, queues); err != nil {
		return fmt.Errorf("ошибка при настройке топологии трекера: %w", err)
	}

	c.logger.Printf("Трекер слушает обменники %v через очередь %s", c.cfg.Exchanges, c.cfg.Queue)
	return nil
}

// Run запускает цикл потребления и блокируется до отмены контекста
func (c *TrackerConsumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.ConsumeDeliveries(c.cfg.Queue, "saga-tracker")
	if err != nil {
		return fmt.Errorf("ошибка запуска потребления из очереди %s: %w", c.cfg.Queue, err)
	}
	c.deliveries = deliveries

	for {
		select {
		case <-ctx.Done():
			c.logger.Println("Цикл потребления остановлен")
			return nil
		default:
		}

		c.tick(ctx)

		// Короткая пауза между тиками, чтобы не крутиться впустую
		time.Sleep(c.cfg.IdleDelay)
	}
}

// tick ожидает одно сообщение не дольше ReceiveTimeout и обрабатывает его.
// Паника внутри тика не валит цикл: сообщение останется неподтвержденным,
// брокер доставит его снова.
func (c *TrackerConsumer) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("[ERROR] Паника при обработке сообщения: %v", r)
		}
	}()

	select {
	case delivery, ok := <-c.deliveries:
		if !ok {
			return
		}
		c.handleDelivery(ctx, delivery)
	case <-time.After(c.cfg.ReceiveTimeout):
	case <-ctx.Done():
	}
}

// handleDelivery решает судьбу одной доставки: подтверждение после коммита,
// возврат в очередь при сбое, DLQ после исчерпания попыток
func (c *TrackerConsumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	topic := delivery.Exchange
	if topic == "" {
		topic = delivery.RoutingKey
	}

	err := c.processor.ProcessEvent(ctx, delivery.Body, topic)
	if err == nil {
		c.forget(delivery)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Printf("[ERROR] Не удалось подтвердить сообщение: %v", ackErr)
		}
		return
	}

	if errors.Is(err, apperrors.ErrDuplicate) {
		// Шаг уже записан, состояние уже обновлено: подтверждаем без повторной обработки
		c.logger.Printf("Повторная доставка уже записанного события, подтверждаем без обработки")
		c.forget(delivery)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Printf("[ERROR] Не удалось подтвердить дубликат: %v", ackErr)
		}
		return
	}

	if !errors.Is(err, sagaevent.ErrDecode) {
		// Временный сбой (хранилище, обрыв соединения): событие корректно,
		// оно обязано вернуться в очередь и примениться позже. В DLQ уходят
		// только неразборчивые тела, порог попыток на этот класс не действует
		c.logger.Printf("[ERROR] Ошибка обработки сообщения, возврат в очередь: %v", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Printf("[ERROR] Не удалось вернуть сообщение в очередь: %v", nackErr)
		}
		return
	}

	key := c.fingerprint(delivery)
	c.track(key)
	attempt := c.attempts[key]
	c.logger.Printf("[ERROR] Ошибка декодирования сообщения (попытка %d/%d): %v", attempt, c.cfg.MaxDeliveryAttempts, err)

	if attempt >= c.cfg.MaxDeliveryAttempts {
		c.deadLetter(delivery)
		return
	}

	if nackErr := delivery.Nack(false, true); nackErr != nil {
		c.logger.Printf("[ERROR] Не удалось вернуть сообщение в очередь: %v", nackErr)
	}
}

// deadLetter отправляет исходное тело в DLQ и подтверждает исходное
// сообщение, чтобы ядовитое сообщение не блокировало конвейер
func (c *TrackerConsumer) deadLetter(delivery amqp.Delivery) {
	if err := c.broker.PublishRaw(c.cfg.DLQExchange, c.cfg.DLQRoutingKey, delivery.Body); err != nil {
		c.logger.Printf("[ERROR] Не удалось отправить сообщение в DLQ, возвращаем в очередь: %v", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Printf("[ERROR] Не удалось вернуть сообщение в очередь: %v", nackErr)
		}
		return
	}

	c.logger.Printf("Сообщение отправлено в DLQ %s после %d попыток", c.cfg.DLQQueue, c.cfg.MaxDeliveryAttempts)
	c.forget(delivery)
	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Printf("[ERROR] Не удалось подтвердить сообщение после отправки в DLQ: %v", ackErr)
	}
}

// maxTrackedFingerprints ограничивает память под счетчики попыток. При
// переполнении таблица сбрасывается целиком: отправка в DLQ лишь
// откладывается на новый круг попыток
const maxTrackedFingerprints = 1024

func (c *TrackerConsumer) track(key string) {
	if _, ok := c.attempts[key]; !ok && len(c.attempts) >= maxTrackedFingerprints {
		c.attempts = make(map[string]int)
	}
	c.attempts[key]++
}

func (c *TrackerConsumer) forget(delivery amqp.Delivery) {
	delete(c.attempts, c.fingerprint(delivery))
}

// fingerprint ключ учета попыток: MessageId, если продьюсер его задал,
// иначе дайджест тела. Разные сообщения с одинаковым телом и без MessageId
// делят один отпечаток и общий счетчик попыток
func (c *TrackerConsumer) fingerprint(delivery amqp.Delivery) string {
	if delivery.MessageId != "" {
		return delivery.MessageId
	}
	sum := sha256.Sum256(delivery.Body)
	return hex.EncodeToString(sum[:])
}
