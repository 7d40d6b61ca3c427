package infrastructure

import (
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// NewKafkaWriter creates the pipeline event writer.
// Returns nil when Kafka is not configured.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	if !cfg.Enabled() {
		return nil
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	acks := kafka.RequireOne
	switch cfg.RequiredAcks {
	case 0:
		acks = kafka.RequireNone
	case -1:
		acks = kafka.RequireAll
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
	}
	logger.Info("Kafka writer configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return w
}
