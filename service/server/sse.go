package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/basketswap/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// OrderStream delivers order events for one owner, or every owner when owner
// is empty, until ctx is done.
type OrderStream interface {
	Stream(ctx context.Context, owner string, handle func(*natspkg.OrderEvent) error) error
}

// SSEPublisher manages Server-Sent Events connections for order event streaming.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("basketswap-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Stream creates an ephemeral consumer that delivers only new order events.
func (p *SSEPublisher) Stream(ctx context.Context, owner string, handle func(*natspkg.OrderEvent) error) error {
	subject := natspkg.StreamSubjects
	if owner != "" {
		subject = natspkg.SubjectForOwner(owner)
	}

	cons, err := p.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event natspkg.OrderEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			p.logger.Warn("failed to unmarshal order event", "error", err)
			_ = msg.Ack()
			return
		}
		if err := handle(&event); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamOrders handles SSE streaming for order events.
// If the owner path parameter is empty, streams every owner.
// GET /api/v1/stream/orders/{owner}
func handleStreamOrders(stream OrderStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")
		if owner != "" {
			if err := validateAddress(owner); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		ownerDesc := owner
		if ownerDesc == "" {
			ownerDesc = "all owners"
		}

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush()

		logger.DebugContext(r.Context(), "SSE client connected", "owner", ownerDesc, "remote_addr", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events := make(chan *natspkg.OrderEvent, 10)
		errc := make(chan error, 1)
		go func() {
			errc <- stream.Stream(ctx, owner, func(e *natspkg.OrderEvent) error {
				select {
				case events <- e:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"owner\":%q}\n\n", ownerDesc)
		flush()

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: order\ndata: %s\n\n", data)
				flush()
				logger.DebugContext(r.Context(), "sent order event", "owner", event.Owner, "order_id", event.OrderID)

			case err := <-errc:
				for len(events) > 0 {
					event := <-events
					if data, err := json.Marshal(event); err == nil {
						fmt.Fprintf(w, "event: order\ndata: %s\n\n", data)
					}
				}
				flush()
				if err != nil {
					logger.ErrorContext(r.Context(), "order stream failed", "owner", ownerDesc, "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
					flush()
				}
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "owner", ownerDesc, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
