package server

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Handler accepts WebSocket uplinks from logger devices and stores what
// they send.
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          ReadingStore
	sink           ReadingSink
	logger         zerolog.Logger
	allowedOrigins []string

	mutex   sync.RWMutex
	devices map[string]*DeviceConnection // keyed by remote address
}

// DeviceConnection represents an active device uplink
type DeviceConnection struct {
	DeviceID    string    `json:"device_id"`
	RemoteAddr  string    `json:"remote_addr"`
	BufferSize  int       `json:"buffer_size"`
	Sensors     int       `json:"sensors"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewHandler creates a new WebSocket handler. With no allowed origins only
// requests without an Origin header are accepted.
func NewHandler(authToken string, store ReadingStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		store:          store,
		logger:         logger.With().Str("component", "ingest").Logger(),
		allowedOrigins: allowedOrigins,
		devices:        make(map[string]*DeviceConnection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetDBWriter forwards every accepted reading to sink as well.
func (h *Handler) SetDBWriter(sink ReadingSink) {
	h.sink = sink
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not allowed")
	return false
}

// ServeHTTP authenticates and upgrades the request, then serves the
// connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	h.handleConnection(conn)
}

// validateToken expects "Bearer <token>".
func (h *Handler) validateToken(authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	return ok && token != "" && token == h.authToken
}

func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.devices[connKey] = &DeviceConnection{
		DeviceID:    connKey,
		RemoteAddr:  connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeDevice(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("remote", connKey).Msg("WebSocket error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(conn, connKey, &msg)
	}
}

func (h *Handler) handleMessage(conn *websocket.Conn, connKey string, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	var ack models.AckMessage
	switch msg.Type {
	case models.MessageTypeReading:
		var reading models.Reading
		if err := msg.UnmarshalPayload(&reading); err != nil {
			h.sendError(conn, "bad_payload", err.Error())
			return
		}
		ack = h.ingest([]models.Reading{reading})
	case models.MessageTypeBatch:
		var batch models.BatchMessage
		if err := msg.UnmarshalPayload(&batch); err != nil {
			h.sendError(conn, "bad_payload", err.Error())
			return
		}
		ack = h.ingest(batch.Readings)
		h.logger.Info().
			Str("device_id", batch.DeviceID).
			Int("accepted", ack.Accepted).
			Int("rejected", ack.Rejected).
			Msg("Batch stored")
	case models.MessageTypeHeartbeat:
		var heartbeat models.HeartbeatMessage
		if err := msg.UnmarshalPayload(&heartbeat); err != nil {
			h.sendError(conn, "bad_payload", err.Error())
			return
		}
		h.handleHeartbeat(connKey, heartbeat)
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.sendError(conn, "unknown_type", string(msg.Type))
		return
	}

	h.touch(connKey)
	ack.Status = "ok"
	h.send(conn, models.MessageTypeAck, ack)
}

// ingest stores every valid reading and counts the rest as rejected.
func (h *Handler) ingest(readings []models.Reading) models.AckMessage {
	var ack models.AckMessage
	for i := range readings {
		r := &readings[i]
		if r.Kind == "" {
			r.Kind = models.KindClimate
		}
		if !r.IsValid() {
			ack.Rejected++
			h.logger.Warn().Str("sensor_id", r.SensorID).Str("reading", r.String()).Msg("Reading ignored: invalid")
			continue
		}
		h.store.Add(r)
		if h.sink != nil {
			h.sink.Write(r)
		}
		ack.Accepted++
	}
	return ack
}

func (h *Handler) handleHeartbeat(connKey string, hb models.HeartbeatMessage) {
	h.mutex.Lock()
	if d, ok := h.devices[connKey]; ok {
		if hb.DeviceID != "" {
			d.DeviceID = hb.DeviceID
		}
		d.BufferSize = hb.BufferSize
		d.Sensors = hb.Sensors
	}
	h.mutex.Unlock()

	h.logger.Debug().
		Str("device_id", hb.DeviceID).
		Int64("uptime", hb.Uptime).
		Int("buffer_size", hb.BufferSize).
		Msg("Heartbeat received")
}

func (h *Handler) sendError(conn *websocket.Conn, code, message string) {
	h.logger.Warn().Str("code", code).Str("msg", message).Msg("Rejecting message")
	h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: code, Message: message})
}

func (h *Handler) send(conn *websocket.Conn, msgType models.MessageType, payload any) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(msgType)).Msg("Failed to send message")
	}
}

func (h *Handler) touch(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if d, ok := h.devices[connKey]; ok {
		d.LastSeen = time.Now()
	}
}

func (h *Handler) removeDevice(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	deviceID := connKey
	if d, ok := h.devices[connKey]; ok {
		deviceID = d.DeviceID
	}
	delete(h.devices, connKey)
	h.logger.Info().Str("device_id", deviceID).Msg("Device disconnected")
}

// GetActiveDevices returns a snapshot of the connected devices
func (h *Handler) GetActiveDevices() []DeviceConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]DeviceConnection, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, *d)
	}
	return out
}

// HandleDevices serves the active device list as JSON.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.GetActiveDevices())
}
