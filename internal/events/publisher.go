// Accessync - Subscription Access Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/accessync

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/accessync/internal/metrics"
)

// Config selects and configures the event backend.
type Config struct {
	Enabled     bool
	Backend     string // gochannel or nats
	NATSURL     string
	JetStream   bool
	TopicPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
}

// WatermillPublisher publishes AccessEvents through any Watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewWatermillPublisher wraps pub. Topics are "<prefix>.<event type>".
func NewWatermillPublisher(pub message.Publisher, prefix string, logger watermill.LoggerAdapter) *WatermillPublisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &WatermillPublisher{publisher: pub, prefix: prefix, logger: logger}
}

// NewGoChannel creates the in-process pub/sub used when no broker is configured.
// The returned GoChannel also serves subscribers in the same process.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
}

// NewNATSPublisher connects a Watermill NATS publisher. With JetStream
// disabled events go over core NATS subjects.
func NewNATSPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("accessync"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      !cfg.JetStream,
			AutoProvision: cfg.JetStream,
			TrackMsgId:    cfg.JetStream,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}

// New builds the publisher described by cfg. A disabled stream yields a
// NopPublisher.
func New(cfg Config, logger watermill.LoggerAdapter) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	switch cfg.Backend {
	case "", "gochannel":
		return NewWatermillPublisher(NewGoChannel(logger), cfg.TopicPrefix, logger), nil
	case "nats":
		pub, err := NewNATSPublisher(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewWatermillPublisher(pub, cfg.TopicPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Publish encodes and publishes event. The event ID doubles as the message
// UUID and the NATS deduplication ID.
func (p *WatermillPublisher) Publish(ctx context.Context, event AccessEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.EventID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, event.EventID)
	msg.Metadata.Set("event_type", string(event.Type))
	if event.ScriptID != "" {
		msg.Metadata.Set("script_id", event.ScriptID)
	}

	topic := event.Topic(p.prefix)
	err = p.publisher.Publish(topic, msg)
	metrics.RecordEventPublish(topic, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close shuts down the underlying publisher.
func (p *WatermillPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
