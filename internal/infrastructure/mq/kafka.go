package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"economy/internal/config"
	"economy/internal/model"
)

// NewProducer 创建 Kafka 同步生产者
func NewProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return producer, nil
}

// BalanceEvent 余额落库事件
type BalanceEvent struct {
	MutationID  string    `json:"mutation_id"`
	EntityID    string    `json:"entity_id"`
	DisplayName string    `json:"display_name"`
	Balance     string    `json:"balance"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher 批次落库后把每条变更作为事件发出，以实体ID为 key 保证分区内有序
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

func (p *Publisher) OnCommit(_ context.Context, batch []model.PendingMutation) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, m := range batch {
		payload, err := json.Marshal(BalanceEvent{
			MutationID:  strconv.FormatInt(m.ID, 10),
			EntityID:    m.EntityID.String(),
			DisplayName: m.DisplayName,
			Balance:     m.Balance.String(),
			Timestamp:   m.Timestamp,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(m.EntityID.String()),
			Value: sarama.ByteEncoder(payload),
		})
	}
	return p.producer.SendMessages(msgs)
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
