package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// room for a simulate message carrying a full ECG strip
	maxMessageSize = 16 << 10
)

// Client one dashboard connection
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex

	// initial is queued by the hub on registration
	initial []byte
}

func newClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 64),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) subscribe(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[patientID] = true
}

func (c *Client) unsubscribe(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, patientID)
}

// wants reports whether a message for patientID should reach this client.
func (c *Client) wants(patientID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 || patientID == "" {
		return true
	}
	return c.subscriptions[patientID]
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type            string          `json:"type"`
		PatientID       string          `json:"patient_id"`
		Data            json.RawMessage `json:"data"`
		UpdateDashboard bool            `json:"update_dashboard"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(Message{Type: TypeError, Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.subscribe(msg.PatientID)
		c.reply(Message{Type: TypeAck, PatientID: msg.PatientID})
	case TypeUnsubscribe:
		c.unsubscribe(msg.PatientID)
		c.reply(Message{Type: TypeAck, PatientID: msg.PatientID})
	case "ping":
		c.reply(Message{Type: TypePong})
	case TypeSimulate:
		c.simulate(msg.PatientID, msg.Data, msg.UpdateDashboard)
	default:
		c.reply(Message{Type: TypeError, Error: "unknown message type"})
	}
}

// simulate analyses a submitted reading without recording it and replies with the result.
// With updateDashboard the result is also broadcast as a vitals update.
func (c *Client) simulate(patientID string, data json.RawMessage, updateDashboard bool) {
	if c.hub.analyze == nil {
		c.reply(Message{Type: TypeError, Error: "simulation unavailable"})
		return
	}
	var sub models.VitalSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		c.reply(Message{Type: TypeError, Error: "invalid simulation data"})
		return
	}
	if patientID == "" {
		patientID = sub.PatientID
	}
	if patientID == "" {
		c.reply(Message{Type: TypeError, Error: "patient_id is required"})
		return
	}

	ts, err := sub.Time(time.Now())
	if err != nil {
		c.reply(Message{Type: TypeError, PatientID: patientID, Error: err.Error()})
		return
	}
	reading, err := sub.ToReading(ts)
	if err != nil {
		c.reply(Message{Type: TypeError, PatientID: patientID, Error: err.Error()})
		return
	}

	payload, err := c.hub.analyze(context.Background(), patientID, reading)
	if err != nil {
		c.hub.logger.Warn("Simulation failed", zap.String("client_id", c.ID), zap.String("patient_id", patientID), zap.Error(err))
		c.reply(Message{Type: TypeError, PatientID: patientID, Error: err.Error()})
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		c.reply(Message{Type: TypeError, PatientID: patientID, Error: "failed to encode analysis"})
		return
	}
	c.reply(Message{Type: TypeSimulationAnalysis, PatientID: patientID, Data: raw})

	if updateDashboard {
		if err := c.hub.Broadcast(TypeVitalsUpdate, payload); err != nil {
			c.hub.logger.Warn("Failed to broadcast simulation", zap.String("patient_id", patientID), zap.Error(err))
		}
	}
}

// reply never blocks; the hub may already have closed send.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
