package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// TLS enables an encrypted connection to the brokers. Payloads are
	// already anonymized, but transport metadata still deserves the cover.
	TLS    bool
	Logger *slog.Logger
}

// KafkaSink produces anonymized events to a Kafka topic. Production is
// synchronous: the pipeline must know delivery failed so the incident
// detector can count it.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaSink dials the brokers and verifies connectivity.
func NewKafkaSink(ctx context.Context, cfg KafkaConfig) (*KafkaSink, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(50 * time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create kafka client")
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ping kafka brokers")
	}
	return &KafkaSink{client: client, topic: cfg.Topic, logger: cfg.Logger}, nil
}

// Deliver produces the event's payload and waits for broker acknowledgment.
// Records carry no key: keys would partition by content and release an
// ordering signal the payload itself does not.
func (s *KafkaSink) Deliver(ctx context.Context, ev domain.AnonymizedEvent) error {
	payload, err := ev.Payload()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransportFailure, "serialize event")
	}
	record := &kgo.Record{Topic: s.topic, Value: payload}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "kafka delivery failed", "error", err)
		}
		return dErrors.Wrap(err, dErrors.CodeTransportFailure, "produce event")
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}
