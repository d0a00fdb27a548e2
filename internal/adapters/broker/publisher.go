package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/larriantoniy/device_gateway/internal/domain"
)

const DefaultQueuePrefix = "inbound."

// Publisher кладёт входящие сообщения в очередь {prefix}{deviceID}
type Publisher struct {
	cache  *Cache
	prefix string

	mu       sync.Mutex
	declared map[string]Channel // очередь -> канал, на котором её объявили
}

func NewPublisher(cache *Cache, queuePrefix string) *Publisher {
	if queuePrefix == "" {
		queuePrefix = DefaultQueuePrefix
	}
	return &Publisher{cache: cache, prefix: queuePrefix, declared: make(map[string]Channel)}
}

func (p *Publisher) Publish(ctx context.Context, deviceID string, msg *domain.InboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := p.cache.GetChannel(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("broker channel: %w", err)
	}

	queue := p.prefix + deviceID
	if err := p.declare(ch, queue); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		AppId:        deviceID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// declare объявляет очередь один раз на канал.
// Новый канал после разрыва вытесняет старую запись.
func (p *Publisher) declare(ch Channel, queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[queue] == ch {
		return nil
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		delete(p.declared, queue)
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	p.declared[queue] = ch
	return nil
}
