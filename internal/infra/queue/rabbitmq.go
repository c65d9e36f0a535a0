package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"moviesbot/internal/domain"
	"moviesbot/internal/infra/metrics"
)

// ErrQueueClosed возвращается, когда канал доставки закрыт брокером.
var ErrQueueClosed = errors.New("очередь закрыта")

// Rabbit держит соединение с брокером, общее для всех очередей процесса.
type Rabbit struct {
	conn *amqp.Connection
}

// NewRabbit подключается к RabbitMQ по AMQP URL.
func NewRabbit(amqpURL string) (*Rabbit, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return &Rabbit{conn: conn}, nil
}

// Close закрывает соединение.
func (r *Rabbit) Close() error {
	return r.conn.Close()
}

// rabbitQueue — одна durable-очередь с ручным подтверждением доставки.
type rabbitQueue struct {
	conn *amqp.Connection
	name string

	mu         sync.Mutex
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

func newRabbitQueue(conn *amqp.Connection, name string) (*rabbitQueue, error) {
	if name == "" {
		return nil, errors.New("queue name is empty")
	}
	q := &rabbitQueue{conn: conn, name: name}
	ch, err := q.channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q, nil
}

func (q *rabbitQueue) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q.ch = ch
	q.deliveries = nil
	return ch, nil
}

func (q *rabbitQueue) publish(ctx context.Context, body []byte) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	start := time.Now()
	err = ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.name, start, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", q.name, err)
	}
	return nil
}

func (q *rabbitQueue) receive(ctx context.Context) ([]byte, domain.AckFunc, error) {
	ch, err := q.channel()
	if err != nil {
		return nil, nil, err
	}
	q.mu.Lock()
	if q.deliveries == nil {
		deliveries, consumeErr := ch.Consume(q.name, "", false, false, false, false, nil)
		if consumeErr != nil {
			q.mu.Unlock()
			return nil, nil, fmt.Errorf("consume %s: %w", q.name, consumeErr)
		}
		q.deliveries = deliveries
	}
	deliveries := q.deliveries
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.mu.Lock()
			q.deliveries = nil
			q.mu.Unlock()
			return nil, nil, ErrQueueClosed
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return d.Body, ack, nil
	}
}

// RabbitProcessQueue реализует domain.ProcessQueue поверх AMQP.
type RabbitProcessQueue struct {
	q *rabbitQueue
}

var _ domain.ProcessQueue = (*RabbitProcessQueue)(nil)

// NewRabbitProcessQueue объявляет очередь задач обработки постов.
func NewRabbitProcessQueue(r *Rabbit, name string) (*RabbitProcessQueue, error) {
	q, err := newRabbitQueue(r.conn, name)
	if err != nil {
		return nil, err
	}
	return &RabbitProcessQueue{q: q}, nil
}

// Enqueue публикует задачу в очередь.
func (p *RabbitProcessQueue) Enqueue(ctx context.Context, job domain.ProcessJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return p.q.publish(ctx, body)
}

// Receive блокирующе читает задачу; подтверждение через AckFunc.
func (p *RabbitProcessQueue) Receive(ctx context.Context) (domain.ProcessJob, domain.AckFunc, error) {
	body, ack, err := p.q.receive(ctx)
	if err != nil {
		return domain.ProcessJob{}, nil, err
	}
	var job domain.ProcessJob
	if err := json.Unmarshal(body, &job); err != nil {
		// Нечитаемую задачу нет смысла возвращать в очередь.
		_ = ack(true)
		return domain.ProcessJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, ack, nil
}

// RabbitReviewQueue реализует domain.ReviewQueue поверх AMQP.
type RabbitReviewQueue struct {
	q *rabbitQueue
}

var _ domain.ReviewQueue = (*RabbitReviewQueue)(nil)

// NewRabbitReviewQueue объявляет очередь задач повторной проверки.
func NewRabbitReviewQueue(r *Rabbit, name string) (*RabbitReviewQueue, error) {
	q, err := newRabbitQueue(r.conn, name)
	if err != nil {
		return nil, err
	}
	return &RabbitReviewQueue{q: q}, nil
}

// Enqueue публикует задачу в очередь.
func (p *RabbitReviewQueue) Enqueue(ctx context.Context, job domain.ReviewJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return p.q.publish(ctx, body)
}

// Receive блокирующе читает задачу; подтверждение через AckFunc.
func (p *RabbitReviewQueue) Receive(ctx context.Context) (domain.ReviewJob, domain.AckFunc, error) {
	body, ack, err := p.q.receive(ctx)
	if err != nil {
		return domain.ReviewJob{}, nil, err
	}
	var job domain.ReviewJob
	if err := json.Unmarshal(body, &job); err != nil {
		_ = ack(true)
		return domain.ReviewJob{}, nil, fmt.Errorf("decode job: %w", err)
	}
	return job, ack, nil
}
