package kafka

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/dengue-rain-etl/internal/config"
	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces one message per output row to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in metrics and logs.
func (w *Writer) Name() string { return "kafka" }

// LoadBatch publishes all rows in a single WriteMessages call. Messages are
// keyed by aggregate key so every state-month lands on the same partition.
func (w *Writer) LoadBatch(ctx context.Context, rows []domain.OutputRow) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msgs[i] = serializeToMessage(rows[i])
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Debug("rows published", "topic", w.writer.Topic, "rows", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage encodes a row as a Kafka message whose value is the
// delimited output line.
func serializeToMessage(row domain.OutputRow) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(row.Key()),
		Value: []byte(domain.FormatRow(row)),
		Headers: []kafkago.Header{
			{Key: "uf", Value: []byte(row.UF)},
			{Key: "ano", Value: []byte(row.Year)},
			{Key: "mes", Value: []byte(row.Month)},
		},
	}
}
