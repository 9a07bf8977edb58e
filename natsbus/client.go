package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/agentcouncil/core"
)

// Event is the envelope published for each record.
type Event struct {
	Kind      core.RecordKind `json:"kind"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Record    json.RawMessage `json:"record"`
}

// Client publishes records to NATS.
type Client struct {
	conn *nats.Conn
	now  func() time.Time
}

// NewClient connects to the embedded bus.
func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

// NewClientFromURL connects to the NATS server at url.
func NewClientFromURL(url string, opts ...nats.Option) (*Client, error) {
	opts = append([]nats.Option{nats.Name("agentcouncil")}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, now: time.Now}, nil
}

// Record implements core.Recorder by publishing rec as an Event.
func (c *Client) Record(ctx context.Context, rec core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return c.PublishJSON(TopicRecord(rec.RecordKind(), rec.RecordStatus()), Event{
		Kind:      rec.RecordKind(),
		Status:    rec.RecordStatus(),
		Timestamp: c.now().UTC(),
		Record:    payload,
	})
}

// Publish sends raw data on topic.
func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

// PublishJSON marshals v and sends it on topic.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

// Subscribe decodes events published on topic (wildcards allowed) and passes
// them to handler. Undecodable messages are skipped.
func (c *Client) Subscribe(topic string, handler func(Event)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		handler(ev)
	})
}

// Flush waits until the server has processed every published message.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close closes the connection.
func (c *Client) Close() {
	c.conn.Close()
}
