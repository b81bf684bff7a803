// Package http exposes the operational HTTP surface: health, message
// ingestion for webhook-less channels, cache invalidation and the WebSocket
// event feed.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Wandeon/meta-chat-platform/internal/adapter/ws"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

// ConfigInvalidator evicts a tenant's cached runtime configuration, either
// for the named channel types or for every channel when none are given.
type ConfigInvalidator interface {
	Invalidate(tenantID string, channelTypes ...string)
}

// Handlers bundles all HTTP handler dependencies.
type Handlers struct {
	broker      messagequeue.Broker
	invalidator ConfigInvalidator
	hub         *ws.Hub
	logger      *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(broker messagequeue.Broker, invalidator ConfigInvalidator, hub *ws.Hub, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{broker: broker, invalidator: invalidator, hub: hub, logger: logger}
}

// HandleHealth reports process liveness and broker connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":           "ok",
		"broker_connected": h.broker.IsConnected(),
	}
	if !h.broker.IsConnected() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

// HandleIngest accepts a normalized inbound message and publishes it onto the
// tenant's channel queue. This is the entry point for webchat widgets and for
// channel gateways that receive provider webhooks elsewhere.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := urlParam(r, "tenantID")
	channelType := urlParam(r, "channelType")
	if !validChannelType(channelType) {
		writeError(w, http.StatusBadRequest, "unknown channel type")
		return
	}

	msg, ok := readJSON[message.Normalized](w, r)
	if !ok {
		return
	}
	if msg.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Direction == "" {
		msg.Direction = message.DirectionInbound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = message.NewTimestamp(time.Now())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "message cannot be serialized")
		return
	}

	topo := messagequeue.InboundTopology(tenantID, channelType)
	header := map[string]string{
		messagequeue.HeaderCorrelationID: uuid.NewString(),
	}
	if err := h.broker.Publish(r.Context(), topo.Subject, header, data); err != nil {
		h.logger.Error("ingest publish failed", "subject", topo.Subject, "error", err)
		writeError(w, http.StatusServiceUnavailable, "message queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message_id":     msg.ID,
		"correlation_id": header[messagequeue.HeaderCorrelationID],
	})
}

// HandleInvalidateConfig evicts a tenant's cached runtime config so the next
// message observes fresh settings immediately. An optional "channel" query
// parameter narrows the eviction to one channel type.
func (h *Handlers) HandleInvalidateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := urlParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenantID is required")
		return
	}
	if channelType := r.URL.Query().Get("channel"); channelType != "" {
		h.invalidator.Invalidate(tenantID, channelType)
	} else {
		h.invalidator.Invalidate(tenantID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func validChannelType(channelType string) bool {
	for _, t := range tenant.ChannelTypes {
		if t == channelType {
			return true
		}
	}
	return false
}
