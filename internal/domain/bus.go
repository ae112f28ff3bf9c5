package domain

import (
	"context"
	"time"
)

// EventBus carries scan checkpoints and exported findings between components.
// Supports in-process channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings
	ChannelBufferSize int `yaml:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string        `yaml:"nats_url"`
	NATSToken         string        `yaml:"nats_token"`
	NATSMaxReconnects int           `yaml:"nats_max_reconnects"`
	NATSReconnectWait time.Duration `yaml:"nats_reconnect_wait"`
	// SubjectPrefix namespaces NATS subjects, typically by chain.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Topics used by the scan driver, worker and exporters.
const (
	TopicScanCheckpoint = "heron.scan.checkpoint"
	TopicPassCompleted  = "heron.pass.completed"
	TopicAnomaly        = "heron.finding.anomaly"
	TopicPattern        = "heron.finding.pattern"
)

// Checkpoint is published by the scan driver after a batch of blocks.
type Checkpoint struct {
	Chain     string `json:"chain"`
	Block     uint64 `json:"block"`
	Records   int    `json:"records"`
	StoreSize int    `json:"storeSize"`
}
