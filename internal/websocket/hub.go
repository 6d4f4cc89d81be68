// Package websocket pushes tick payloads to connected dashboards.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// Message types
const (
	TypeSubscribe          = "subscribe"
	TypeUnsubscribe        = "unsubscribe"
	TypeAck                = "ack"
	TypeError              = "error"
	TypePong               = "pong"
	TypeInitialData        = "initial_data"
	TypeSimulate           = "simulate"
	TypeSimulationAnalysis = "simulation_analysis"
	TypeVitalsUpdate       = "vitals_update"
)

var ErrHubBusy = errors.New("broadcast queue full")

// Message envelope sent to clients
type Message struct {
	Type      string          `json:"type"`
	PatientID string          `json:"patient_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AnalyzeFunc runs a what-if analysis of a reading without recording it.
type AnalyzeFunc func(ctx context.Context, patientID string, reading models.VitalReading) (*models.TickPayload, error)

// HubOption configures a Hub
type HubOption func(*Hub)

// WithInitialData sends fn's result as an initial_data message to every new client.
// patientID is the client's patient_id query parameter, possibly empty.
func WithInitialData(fn func(patientID string) *models.InitialData) HubOption {
	return func(h *Hub) { h.initialData = fn }
}

// WithAnalyzer enables simulate messages.
func WithAnalyzer(fn AnalyzeFunc) HubOption {
	return func(h *Hub) { h.analyze = fn }
}

type broadcastMessage struct {
	patientID string
	data      []byte
}

// Hub tracks clients and fans out broadcasts. Clients with no subscription receive every patient.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	initialData func(patientID string) *models.InitialData
	analyze     AnalyzeFunc
}

// NewHub creates a Hub; call Run before serving clients.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub main loop; it closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if client.initial != nil {
				select {
				case client.send <- client.initial:
				default:
				}
				client.initial = nil
			}
			h.logger.Debug("WebSocket client registered", zap.String("client_id", client.ID))
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("WebSocket client removed", zap.String("client_id", client.ID))
	}
}

func (h *Hub) fanOut(msg broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(msg.patientID) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			// slow client, drop
		}
	}
}

func encode(msgType, patientID string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, PatientID: patientID, Data: raw, Timestamp: time.Now().UTC()})
}

// Broadcast queues a typed message. Tick payloads are routed by patient.
func (h *Hub) Broadcast(msgType string, data interface{}) error {
	var patientID string
	if p, ok := data.(*models.TickPayload); ok {
		patientID = p.PatientID
	}
	encoded, err := encode(msgType, patientID, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- broadcastMessage{patientID: patientID, data: encoded}:
		return nil
	default:
		return ErrHubBusy
	}
}

// ClientCount connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, uuid.New().String())
	patientID := r.URL.Query().Get("patient_id")
	if patientID != "" {
		client.subscribe(patientID)
	}
	if h.initialData != nil {
		data := h.initialData(patientID)
		if client.initial, err = encode(TypeInitialData, data.PatientID, data); err != nil {
			h.logger.Warn("Failed to encode initial data", zap.String("client_id", client.ID), zap.Error(err))
		}
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
