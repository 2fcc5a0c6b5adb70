// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
)

// alertTopic carries every envelope kind; the kind travels inside the
// envelope so subscribers see the full stream in publish order.
const alertTopic = "sentria.alerts"

// AlertBus decouples the Coordinator from its delivery sinks with an
// in-process pub/sub channel. Publishing is fire-and-forget: a failed or
// absent subscriber never surfaces to event processing.
type AlertBus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewAlertBus creates the in-process alert bus.
func NewAlertBus() *AlertBus {
	logger := newBusLogger()
	return &AlertBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
		logger: logger,
	}
}

// Publish serializes an envelope onto the bus. The error is informational;
// callers treat publish failures as observability-only.
func (b *AlertBus) Publish(kind string, data interface{}) error {
	envelope := models.NewEnvelope(kind, data)

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", kind, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", kind)

	if err := b.pubsub.Publish(alertTopic, msg); err != nil {
		return fmt.Errorf("publish %s envelope: %w", kind, err)
	}

	metrics.AlertsPublished.WithLabelValues(kind).Inc()
	return nil
}

// Subscribe returns the raw message stream for the alert topic. Each call
// creates an independent subscriber receiving every subsequent envelope.
func (b *AlertBus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, alertTopic)
}

// Close shuts the bus down and releases all subscribers.
func (b *AlertBus) Close() error {
	return b.pubsub.Close()
}

// EnvelopeSink receives decoded envelopes from the bus.
type EnvelopeSink interface {
	Publish(envelope models.Envelope)
}

// Forwarder drains the alert bus into an EnvelopeSink, typically the
// WebSocket hub. It runs under the supervision tree.
type Forwarder struct {
	bus  *AlertBus
	sink EnvelopeSink
}

// NewForwarder creates a bus-to-sink forwarder.
func NewForwarder(bus *AlertBus, sink EnvelopeSink) *Forwarder {
	return &Forwarder{bus: bus, sink: sink}
}

// RunWithContext consumes the alert stream until the context is canceled.
// Undecodable payloads are acked and dropped; the stream must keep moving.
func (f *Forwarder) RunWithContext(ctx context.Context) error {
	messages, err := f.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe alert bus: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}

			var envelope models.Envelope
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				logging.Error().Err(err).
					Str("message_id", msg.UUID).
					Msg("dropping undecodable alert envelope")
				msg.Ack()
				continue
			}

			f.sink.Publish(envelope)
			msg.Ack()
		}
	}
}

// String identifies the forwarder in supervisor logs.
func (f *Forwarder) String() string {
	return "alert-forwarder"
}

// busLogger adapts the global zerolog logger to watermill's LoggerAdapter.
type busLogger struct {
	fields watermill.LogFields
}

func newBusLogger() watermill.LoggerAdapter {
	return &busLogger{}
}

func (l *busLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *busLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Info(), fields).Msg(msg)
}

func (l *busLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *busLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), fields).Msg(msg)
}

func (l *busLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &busLogger{fields: l.fields.Add(fields)}
}

func (l *busLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		e = e.Interface(k, v)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
