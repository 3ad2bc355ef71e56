package ingest

import (
	"encoding/json"
	"log"
	"time"

	"NetBlueprint/internal/collector"
	"NetBlueprint/internal/config"
	"NetBlueprint/internal/metrics"

	"github.com/nats-io/nats.go"
)

// envelope wraps one raw collector payload on the wire.
type envelope struct {
	Host      string          `json:"host"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"`
	Report    json.RawMessage `json:"report"`
}

// Subscriber receives collector reports pushed over NATS and feeds them
// into a Store. A malformed message is logged and dropped, never fatal.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	store   *Store
}

// NewSubscriber connects to the NATS server named in the config.
func NewSubscriber(cfg config.IngestConfig, store *Store) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject, store: store}, nil
}

// Start subscribes to the configured subject and begins storing reports.
func (s *Subscriber) Start() error {
	sub, err := s.nc.Subscribe(s.subject, s.handle)
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for pushed reports...", s.subject)
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("Error unmarshalling ingest envelope: %v", err)
		return
	}
	if env.Host == "" {
		log.Printf("Dropping pushed report without a host name")
		return
	}
	adapter, ok := collector.BySource(env.Source)
	if !ok {
		log.Printf("No collector adapter for source %q, dropping report from %s", env.Source, env.Host)
		return
	}
	capturedAt := time.Unix(env.Timestamp, 0).UTC()
	if env.Timestamp <= 0 {
		capturedAt = time.Now().UTC()
	}
	rep, err := adapter.Parse(env.Host, capturedAt, env.Report)
	if err != nil {
		log.Printf("Error decoding pushed report from %s: %v", env.Host, err)
		return
	}
	s.store.Put(rep)
	metrics.IngestReports.WithLabelValues(env.Source).Inc()
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
