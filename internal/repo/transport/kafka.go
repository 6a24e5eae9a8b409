package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

// Kafka publishes every TransportMessage to a topic, keyed by collection so
// one collection's messages stay ordered.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "chat-replica"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("new sync producer: %w", err)
	}
	return producer, nil
}

func NewKafka(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

func (k *Kafka) DeliverChanges(ctx context.Context, collection string, docs []models.Document) error {
	return k.send(models.TransportMessage{
		Type:           models.TransportMessageChanges,
		CollectionName: collection,
		ChangedDocs:    docs,
	})
}

func (k *Kafka) ReportCheckpoint(ctx context.Context, collection string, cp models.Checkpoint) error {
	return k.send(models.TransportMessage{
		Type:           models.TransportMessageCheckpoint,
		CollectionName: collection,
		Checkpoint:     &cp,
	})
}

func (k *Kafka) send(msg models.TransportMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(msg.CollectionName),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(msg.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
