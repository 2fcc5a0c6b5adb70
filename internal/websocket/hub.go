// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package websocket fans structured alert envelopes out to live dashboard
// subscribers. Publish never blocks on a slow consumer: each client has a
// bounded send queue and is disconnected on overflow.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Control message types exchanged with clients. Alert envelopes use the
// models.Envelope kinds.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Hub maintains the set of active clients and broadcasts envelopes to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan models.Envelope
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan models.Envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext starts the hub with context support for graceful shutdown.
// Designed for use with suture supervision.
//
// DETERMINISM: Uses priority-based selection to ensure predictable behavior:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Broadcast envelopes
// When Go's select has multiple ready channels, it picks randomly; priority
// selection keeps client state consistent before messages are processed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
		}

		// Priority 3: Handle broadcast envelopes or wait for any event
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case envelope := <-h.broadcast:
			h.broadcastToClients(envelope)
		}
	}
}

// String identifies the hub in supervisor logs.
func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectionsActive.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WSClientsDisconnected.WithLabelValues("closed").Inc()
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectionsActive.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// logGracefulShutdown closes all clients and logs structured shutdown
// information. ctx.Err() is NOT logged as an error because cancellation is
// expected behavior during graceful shutdown.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// broadcastToClients sends an envelope to all connected clients in a
// deterministic order. A client whose send queue is full is disconnected
// rather than allowed to stall the broadcast.
func (h *Hub) broadcastToClients(envelope models.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// DETERMINISM: Sort clients by ID for consistent delivery order.
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- envelope:
			metrics.WSMessagesSent.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSClientsDisconnected.WithLabelValues("slow_consumer").Inc()
		logging.Warn().
			Uint64("client_id", client.id).
			Msg("websocket client disconnected, send queue overflow")
	}
	metrics.WSConnectionsActive.Set(float64(len(h.clients)))
}

// closeAllClients gracefully closes all connected clients during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WSClientsDisconnected.WithLabelValues("shutdown").Inc()
	}
	metrics.WSConnectionsActive.Set(0)
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// Publish queues an envelope for fan-out, dropping it when the broadcast
// queue is full rather than blocking the caller.
func (h *Hub) Publish(envelope models.Envelope) {
	select {
	case h.broadcast <- envelope:
	default:
		logging.Warn().Str("kind", envelope.Type).Msg("broadcast channel full, dropping envelope")
	}
}

// BroadcastSecurityEvent pushes a raw security event to all subscribers.
func (h *Hub) BroadcastSecurityEvent(event *models.SecurityEvent) {
	h.Publish(models.NewEnvelope(models.EnvelopeSecurityEvent, event))
}

// BroadcastAlert pushes a threshold or anomaly alert to all subscribers.
func (h *Hub) BroadcastAlert(alert *models.Alert) {
	h.Publish(models.NewEnvelope(models.EnvelopeSecurityAlert, alert))
}

// BroadcastCorrelationAlert pushes an attack-pattern alert to all
// subscribers.
func (h *Hub) BroadcastCorrelationAlert(data interface{}) {
	h.Publish(models.NewEnvelope(models.EnvelopeCorrelationAlert, data))
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
