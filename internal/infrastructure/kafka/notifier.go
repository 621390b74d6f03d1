package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/config"
	"github.com/kiesh/exchange-core/internal/domain/models"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/internal/metrics"
)

// TickNotifier publishes every settled trade to a Kafka topic, keyed by
// instrument so one pair's ticks stay ordered. Publishing is best effort:
// a broker outage trips the breaker and drops ticks until it recovers,
// settlement is never blocked.
type TickNotifier struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *gobreaker.CircuitBreaker[struct{}]
}

type tickEvent struct {
	TradeID     string    `json:"trade_id"`
	Instrument  string    `json:"instrument"`
	Currency    string    `json:"currency"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Price       string    `json:"price"`
	Quantity    int64     `json:"quantity"`
	ExecutedAt  time.Time `json:"executed_at"`
}

func NewTickNotifier(brokers []string, topic string, breakerCfg config.CircuitBreakerConfig) (*TickNotifier, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("sarama.NewSyncProducer: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-tick-notifier",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.MaxFailures
		},
	})

	return &TickNotifier{
		producer: producer,
		topic:    topic,
		breaker:  breaker,
	}, nil
}

func (n *TickNotifier) OnTick(ctx context.Context, trade models.Trade) {
	event := tickEvent{
		TradeID:     trade.ID.String(),
		Instrument:  trade.Instrument,
		Currency:    trade.Currency,
		BuyOrderID:  trade.BuyOrderID.String(),
		SellOrderID: trade.SellOrderID.String(),
		Price:       trade.Price.String(),
		Quantity:    trade.Quantity,
		ExecutedAt:  trade.ExecutedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		metrics.TickNotifyFailures.Inc()
		logger.Error(ctx, "could not encode tick event", zap.Error(err))
		return
	}

	_, err = n.breaker.Execute(func() (struct{}, error) {
		msg := &sarama.ProducerMessage{
			Topic: n.topic,
			Key:   sarama.StringEncoder(trade.Instrument),
			Value: sarama.ByteEncoder(payload),
		}

		_, _, sendErr := n.producer.SendMessage(msg)
		return struct{}{}, sendErr
	})
	if err != nil {
		metrics.TickNotifyFailures.Inc()
		logger.Error(ctx, "could not publish tick event",
			zap.String("trade_id", trade.ID.String()), zap.Error(err))
	}
}

func (n *TickNotifier) Close() error {
	return n.producer.Close()
}
