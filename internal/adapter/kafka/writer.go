package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/waterdata/internal/table"
)

// Writer publishes normalized observation rows to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes every row of the table as a JSON message and writes the
// whole batch in a single WriteMessages call. Messages are keyed by the
// site_id column when present so observations for one site stay in order.
func (w *Writer) Publish(ctx context.Context, dataset string, t *table.Table) error {
	if t.NumRows() == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	msgs := make([]kafkago.Message, t.NumRows())
	for row := 0; row < t.NumRows(); row++ {
		value, err := json.Marshal(rowMap(t, row))
		if err != nil {
			return fmt.Errorf("serialize row %d: %w", row, err)
		}
		msgs[row] = kafkago.Message{
			Key:   rowKey(t, row),
			Value: value,
			Headers: []kafkago.Header{
				{Key: "dataset", Value: []byte(dataset)},
				{Key: "published_at", Value: []byte(now)},
			},
		}
	}

	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d rows to %s: %w", len(msgs), w.writer.Topic, err)
	}
	w.logger.Debug("published rows", "dataset", dataset, "rows", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// rowMap converts one table row to a JSON-ready map. Missing cells become
// explicit nulls so consumers see the full column set on every message.
func rowMap(t *table.Table, row int) map[string]any {
	out := make(map[string]any, t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		col := t.ColumnAt(i)
		if !col.IsValid(row) {
			out[col.Name()] = nil
			continue
		}
		switch col.Kind() {
		case table.KindString:
			v, _ := col.String(row)
			out[col.Name()] = v
		case table.KindFloat:
			v, _ := col.Float(row)
			out[col.Name()] = v
		case table.KindTime:
			v, _ := col.Time(row)
			out[col.Name()] = v.Format(time.RFC3339Nano)
		case table.KindBool:
			v, _ := col.Bool(row)
			out[col.Name()] = v
		case table.KindBytes:
			v, _ := col.Bytes(row)
			out[col.Name()] = v
		}
	}
	return out
}

func rowKey(t *table.Table, row int) []byte {
	if col, ok := t.Column("site_id"); ok && col.Kind() == table.KindString {
		if v, valid := col.String(row); valid {
			return []byte(v)
		}
	}
	return []byte(strconv.Itoa(row))
}
