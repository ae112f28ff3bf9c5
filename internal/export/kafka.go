package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/opensource-finance/heron/internal/domain"
)

// Envelope types written to Kafka.
const (
	EnvelopeAnomaly = "anomaly"
	EnvelopePattern = "pattern"
	EnvelopePass    = "pass"
)

// Envelope wraps every Kafka message.
type Envelope struct {
	Type   string          `json:"type"`
	PassID string          `json:"pass_id"`
	TS     int64           `json:"ts"`
	Data   json.RawMessage `json:"data"`
}

// KafkaExporter sends findings and the pass summary to one topic. Findings
// are keyed by address so an address's findings share a partition.
type KafkaExporter struct {
	topic string
	p     sarama.SyncProducer
}

// NewKafkaExporter connects a synchronous producer to the configured brokers.
func NewKafkaExporter(cfg domain.KafkaConfig) (*KafkaExporter, error) {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaExporter(p, cfg.Topic), nil
}

func newKafkaExporter(p sarama.SyncProducer, topic string) *KafkaExporter {
	return &KafkaExporter{topic: topic, p: p}
}

func (e *KafkaExporter) Name() string { return "kafka" }

// Export sends the whole report as one batch. SyncProducer ignores ctx.
func (e *KafkaExporter) Export(ctx context.Context, report *domain.PassReport) error {
	ts := time.Now().UnixMilli()
	msgs := make([]*sarama.ProducerMessage, 0, len(report.Anomalies)+len(report.Patterns)+1)

	for _, a := range report.Anomalies {
		data, err := domain.MarshalAnomaly(a)
		if err != nil {
			return err
		}
		msg, err := e.message(EnvelopeAnomaly, report.ID, ts, a.Details().Address, data)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	for _, p := range report.Patterns {
		data, err := domain.MarshalPattern(p)
		if err != nil {
			return err
		}
		msg, err := e.message(EnvelopePattern, report.ID, ts, p.Details().Address, data)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	summary, err := json.Marshal(report.Summary())
	if err != nil {
		return err
	}
	msg, err := e.message(EnvelopePass, report.ID, ts, report.ID, summary)
	if err != nil {
		return err
	}
	msgs = append(msgs, msg)

	if err := e.p.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka export failed: %w", err)
	}
	return nil
}

func (e *KafkaExporter) message(typ, passID string, ts int64, key string, data []byte) (*sarama.ProducerMessage, error) {
	b, err := json.Marshal(Envelope{Type: typ, PassID: passID, TS: ts, Data: data})
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
	}, nil
}

// Close closes the producer.
func (e *KafkaExporter) Close() error {
	if e.p != nil {
		return e.p.Close()
	}
	return nil
}
