package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Stream and subject names.
const (
	UnitsStream         = "DEX_UNITS"
	UnitsSubject        = "dex.units.>"
	ChangesetsStream    = "DEX_CHANGESETS"
	ChangesetsSubject   = "dex.changesets.>"
	DefaultUnitsDurable = "dexmetrics-units"
)

// UnitSubscriber consumes processing units from JetStream and feeds them,
// still undecoded, to the shell's main loop.
type UnitSubscriber struct {
	js       jetstream.JetStream
	unitChan chan<- RawUnit
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

// RawUnit is a unit payload as delivered, with its acknowledgement hooks.
// The shell acks after the unit's changeset is handed to persistence.
type RawUnit struct {
	Subject   string
	Data      []byte
	Received  time.Time
	Delivered uint64
	AckFunc   func()
	NakFunc   func()
}

// Ack acknowledges the message. Injected units carry no hooks.
func (r RawUnit) Ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

// Nak requests redelivery.
func (r RawUnit) Nak() {
	if r.NakFunc != nil {
		r.NakFunc()
	}
}

// ConsumerConfig configures the durable unit consumer.
type ConsumerConfig struct {
	Durable    string
	Subject    string
	Stream     string
	AckWait    time.Duration
	MaxDeliver int
}

// DefaultConsumerConfig returns the standard unit consumer. One consumer
// keeps delivery in stream order; units must be applied sequentially.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Durable:    DefaultUnitsDurable,
		Subject:    UnitsSubject,
		Stream:     UnitsStream,
		AckWait:    30 * time.Second,
		MaxDeliver: 5,
	}
}

func NewUnitSubscriber(js jetstream.JetStream, unitChan chan<- RawUnit, log zerolog.Logger) *UnitSubscriber {
	return &UnitSubscriber{
		js:       js,
		unitChan: unitChan,
		log:      log,
	}
}

// Subscribe creates the durable consumer and starts delivering units.
// MaxAckPending is 1 so a unit is never delivered before its predecessor
// has been acked or nacked.
func (s *UnitSubscriber) Subscribe(ctx context.Context, cfg ConsumerConfig) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawUnit{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc: func() {
				if err := msg.Ack(); err != nil {
					s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("ack failed")
				}
			},
			NakFunc: func() {
				if err := msg.Nak(); err != nil {
					s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("nak failed")
				}
			},
		}
		if md, err := msg.Metadata(); err == nil {
			raw.Delivered = md.NumDelivered
		}

		select {
		case s.unitChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.Durable, err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.Durable).Msg("subscribed")
	return nil
}

// Stop stops the consumer.
func (s *UnitSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("unit subscriber stopped")
}

// EnsureStreams creates the unit and changeset streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      UnitsStream,
			Subjects:  []string{UnitsSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       ChangesetsStream,
			Subjects:   []string{ChangesetsSubject},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("dexmetrics"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
