// Package natsbridge is the optional cross-process fan-out for the
// in-process progress-stream Bus (internal/events). A single-node
// deployment can run an embedded NATS server; a multi-node deployment
// points every process at a shared external NATS URL. Grounded on
// internal/nats/client.go's reconnect-handling client and
// internal/nats/server.go's embedded-server wrapper.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/orchestrator-core/orchestrator/internal/events"
)

// subjectPrefix namespaces every context-event subject published to NATS.
const subjectPrefix = "orchestrator.context."

// Config configures the Bridge. If Embedded is true, a single-node NATS
// server is started in-process and URL is ignored; otherwise the Bridge
// dials URL.
type Config struct {
	Embedded bool
	Port     int    // embedded server port, default 4222
	URL      string // external NATS URL, e.g. "nats://nats:4222"
}

// Bridge republishes Bus events onto NATS and lets remote processes
// subscribe to a context's event stream.
type Bridge struct {
	conn   *nats.Conn
	server *natsserver.Server
}

// New connects (or starts-and-connects) a Bridge per cfg.
func New(cfg Config) (*Bridge, error) {
	if cfg.Embedded {
		return newEmbedded(cfg)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("natsbridge: URL is required when Embedded is false")
	}
	conn, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &Bridge{conn: conn}, nil
}

func newEmbedded(cfg Config) (*Bridge, error) {
	port := cfg.Port
	if port <= 0 {
		port = 4222
	}
	opts := &natsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded NATS server did not become ready within 5s")
	}

	conn, err := dial(fmt.Sprintf("nats://127.0.0.1:%d", port))
	if err != nil {
		srv.Shutdown()
		return nil, err
	}
	return &Bridge{conn: conn, server: srv}, nil
}

func dial(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("[NATS] reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Close shuts down the connection and, if this Bridge started one, the
// embedded server.
func (b *Bridge) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}

// PublishContextEvent marshals se and publishes it to the subject for its
// target context.
func (b *Bridge) PublishContextEvent(se events.StreamEvent) error {
	data, err := json.Marshal(se)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	if err := b.conn.Publish(subjectPrefix+se.Target, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subjectPrefix+se.Target, err)
	}
	return nil
}

// SubscribeContext delivers every StreamEvent published for contextID to
// handler, asynchronously.
func (b *Bridge) SubscribeContext(contextID string, handler func(events.StreamEvent)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subjectPrefix+contextID, func(msg *nats.Msg) {
		var se events.StreamEvent
		if err := json.Unmarshal(msg.Data, &se); err != nil {
			log.Printf("[NATS] failed to unmarshal stream event on %s: %v", msg.Subject, err)
			return
		}
		handler(se)
	})
}

// BridgeBus subscribes to every event on bus and republishes it to NATS,
// fanning the in-process Bus out to any remote process listening via
// SubscribeContext. Returns a stop function.
func (b *Bridge) BridgeBus(bus *events.Bus) (stop func()) {
	ch := bus.Subscribe("all", nil)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case se, ok := <-ch:
				if !ok {
					return
				}
				if err := b.PublishContextEvent(se); err != nil {
					log.Printf("[NATS] failed to bridge event for context %s: %v", se.Target, err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		bus.Unsubscribe("all", ch)
	}
}
