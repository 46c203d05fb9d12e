package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// WatchOptions configures a Watch subscription.
type WatchOptions struct {
	// Owner filters events to one wallet. Empty watches every owner.
	Owner string
	// Durable names a consumer that survives restarts. Empty creates an
	// ephemeral consumer that only delivers new events.
	Durable string
}

// Watch streams order events to handle until ctx is cancelled. Events that
// fail to decode are acknowledged and skipped.
func Watch(ctx context.Context, natsURL string, opts WatchOptions, logger *slog.Logger, handle func(*OrderEvent) error) error {
	nc, err := nats.Connect(natsURL, nats.Name("basketswap-watcher"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := StreamSubjects
	if opts.Owner != "" {
		subject = SubjectForOwner(opts.Owner)
	}

	cfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	errc := make(chan error, 1)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event OrderEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("skipping malformed order event", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		if err := handle(&event); err != nil {
			_ = msg.Nak()
			select {
			case errc <- err:
			default:
			}
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	logger.Debug("watching order events", "subject", subject, "durable", opts.Durable)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}
