package xsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Message 发布到消息队列的一条记录，Key 为规范化主键。
type Message struct {
	Key     string
	Payload []byte
}

// Publisher 把一批消息同步发布到队列，全部确认后返回。
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// QueueSink 把记录以 JSON 发布到消息队列，消息 key 为主键。
//
// 队列只追加不回读：Upsert 把每条记录视为新增，去重依赖编排器的页内与
// LRU 过滤；MaxKey 与 Count 返回 ErrUnsupported，Exists 总是返回空集合。
type QueueSink struct {
	pub       Publisher
	published atomic.Int64
}

// NewQueueSink 用任意 Publisher 创建队列 Sink。
func NewQueueSink(pub Publisher) (*QueueSink, error) {
	if pub == nil {
		return nil, ErrNilClient
	}
	return &QueueSink{pub: pub}, nil
}

// NewPulsarSink 创建发布到 Pulsar 生产者所在 topic 的 Sink。
func NewPulsarSink(producer pulsar.Producer) (*QueueSink, error) {
	if producer == nil {
		return nil, ErrNilClient
	}
	return NewQueueSink(&pulsarPublisher{producer: producer})
}

// NewKafkaSink 创建发布到 Kafka topic 的 Sink。
func NewKafkaSink(producer *kafka.Producer, topic string) (*QueueSink, error) {
	if producer == nil {
		return nil, ErrNilClient
	}
	if topic == "" {
		return nil, errors.New("xsink: kafka topic is empty")
	}
	return NewQueueSink(&kafkaPublisher{producer: producer, topic: topic})
}

// Published 返回成功发布的消息数。
func (s *QueueSink) Published() int64 { return s.published.Load() }

// Upsert 实现 Sink：整批编码后发布，任一条失败则整批返回错误。
func (s *QueueSink) Upsert(ctx context.Context, records []Record, pkField string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	msgs := make([]Message, 0, len(records))
	for _, r := range records {
		k, err := PrimaryKey(r, pkField)
		if err != nil {
			return 0, err
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("xsink: encode record %s: %w", k, err)
		}
		msgs = append(msgs, Message{Key: k, Payload: payload})
	}
	if err := s.pub.Publish(ctx, msgs); err != nil {
		return 0, fmt.Errorf("xsink: publish: %w", err)
	}
	s.published.Add(int64(len(msgs)))
	return len(msgs), nil
}

// MaxKey 实现 Sink，队列无法回读。
func (s *QueueSink) MaxKey(context.Context, string) (any, bool, error) {
	return nil, false, ErrUnsupported
}

// Count 实现 Sink，队列无法回读。
func (s *QueueSink) Count(context.Context) (int64, error) {
	return 0, ErrUnsupported
}

// Exists 实现 Sink，队列中的记录视为都不存在。
func (s *QueueSink) Exists(context.Context, string, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

type pulsarPublisher struct {
	producer pulsar.Producer
}

func (p *pulsarPublisher) Publish(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		if _, err := p.producer.Send(ctx, &pulsar.ProducerMessage{Key: m.Key, Payload: m.Payload}); err != nil {
			return err
		}
	}
	return nil
}

type kafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// Publish Produce 是异步的，等待每条消息的投递报告后返回。
func (p *kafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	// 缓冲满批，ctx 取消后未读取的报告不会阻塞 producer
	deliveries := make(chan kafka.Event, len(msgs))
	for _, m := range msgs {
		err := p.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
			Key:            []byte(m.Key),
			Value:          m.Payload,
		}, deliveries)
		if err != nil {
			return err
		}
	}
	var errs []error
	for range msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-deliveries:
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				errs = append(errs, m.TopicPartition.Error)
			}
		}
	}
	return errors.Join(errs...)
}
