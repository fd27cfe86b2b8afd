package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
)

const TypeTradeRecorded = "trade.recorded"

// TradeEvent is the message value published for every newly recorded trade.
// EventID is derived from the transaction hash so redeliveries share it.
type TradeEvent struct {
	EventID    string      `json:"event_id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Trade      model.Trade `json:"trade"`
}

func NewTradeEvent(trade model.Trade) TradeEvent {
	return TradeEvent{
		EventID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(trade.TransactionHash)).String(),
		Type:       TypeTradeRecorded,
		OccurredAt: trade.RecordedAt,
		Trade:      trade,
	}
}

// TradeProducer publishes recorded trades to Kafka keyed by transaction hash.
type TradeProducer struct {
	producer sarama.SyncProducer
	topic    string
	metrics  *metrics.Metrics
}

func NewTradeProducer(cfg Config) (*TradeProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V3_7_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewTradeProducerWith(producer, cfg.TradesTopic), nil
}

func NewTradeProducerWith(producer sarama.SyncProducer, topic string) *TradeProducer {
	return &TradeProducer{producer: producer, topic: topic}
}

func (p *TradeProducer) WithMetrics(m *metrics.Metrics) *TradeProducer {
	p.metrics = m
	return p
}

func (p *TradeProducer) PublishTrade(ctx context.Context, trade model.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(NewTradeEvent(trade))
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(trade.TransactionHash),
		Value: sarama.ByteEncoder(payload),
	})
	p.metrics.ObservePublish("kafka", err)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "TradeProducer",
			"topic":     p.topic,
			"tx_hash":   trade.TransactionHash,
		}).WithError(err).Error("Kafka publish failed")
		return fmt.Errorf("kafka publish failed: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "TradeProducer",
		"topic":     p.topic,
		"tx_hash":   trade.TransactionHash,
		"partition": partition,
		"offset":    offset,
	}).Debug("Trade event published")
	return nil
}

func (p *TradeProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
