package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by sends while no socket is open.
var ErrNotConnected = errors.New("not connected")

const writeTimeout = 10 * time.Second

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	PushInterval         time.Duration
	BatchSize            int
}

// Connection uplinks buffered readings to the collector over a WebSocket,
// reconnecting with exponential backoff.
type Connection struct {
	cfg    ConnectionConfig
	device *models.DeviceInfo
	buffer *ReadingBuffer
	logger zerolog.Logger

	stateMutex sync.RWMutex
	conn       *websocket.Conn
	state      ConnectionState
	writeMutex sync.Mutex

	currentReconnectInterval time.Duration

	lastPong      time.Time
	lastPongMutex sync.RWMutex
}

// NewConnection creates a connection manager draining buffer.
func NewConnection(cfg ConnectionConfig, device *models.DeviceInfo, buffer *ReadingBuffer, logger zerolog.Logger) *Connection {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 10 * time.Second
	}
	return &Connection{
		cfg:                      cfg,
		device:                   device,
		buffer:                   buffer,
		logger:                   logger.With().Str("component", "uplink").Logger(),
		state:                    StateDisconnected,
		currentReconnectInterval: cfg.ReconnectInterval,
	}
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	c.state = state
	c.stateMutex.Unlock()
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials the collector and announces the device with a heartbeat.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.cfg.URL).Msg("Connecting to collector")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.stateMutex.Lock()
	c.conn = conn
	c.state = StateConnected
	c.stateMutex.Unlock()
	c.currentReconnectInterval = c.cfg.ReconnectInterval
	c.logger.Info().Msg("Connected to collector")

	if err := c.sendHeartbeat(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send registration")
		c.disconnect()
		return err
	}
	return nil
}

// Run keeps the uplink connected until ctx is cancelled.
func (c *Connection) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.runMessageLoops(ctx)

		if ctx.Err() == nil {
			c.logger.Info().Msg("Connection lost, will reconnect")
			c.waitBeforeReconnect(ctx)
		}
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.cfg.MaxReconnectInterval {
		c.currentReconnectInterval = c.cfg.MaxReconnectInterval
	}
}

// runMessageLoops runs the read, heartbeat and push loops until any of them
// stops, then drops the socket.
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){c.readLoop, c.heartbeatLoop, c.pushLoop} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			defer cancel()
			run(ctx)
		}(loop)
	}

	// The read loop only returns once the socket is closed.
	<-ctx.Done()
	c.disconnect()
	wg.Wait()
}

func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

// Send sends a single reading immediately.
func (c *Connection) Send(reading *models.Reading) error {
	msg, err := models.NewMessage(models.MessageTypeReading, reading)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return c.sendMessage(msg)
}

// SendBatch sends multiple readings in one message
func (c *Connection) SendBatch(readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := models.BatchMessage{
		DeviceID: c.device.ID,
		Readings: make([]models.Reading, len(readings)),
		Count:    len(readings),
	}
	for i, r := range readings {
		batch.Readings[i] = *r
	}

	msg, err := models.NewMessage(models.MessageTypeBatch, batch)
	if err != nil {
		return fmt.Errorf("failed to create batch message: %w", err)
	}
	if err := c.sendMessage(msg); err != nil {
		return err
	}
	c.logger.Debug().Int("count", len(readings)).Msg("Sent batch of readings")
	return nil
}

// Flush sends buffered readings in batches until the buffer is empty. A
// batch leaves the buffer only after it was written. Readings that cannot
// be encoded are dropped so they never block the head of the buffer.
func (c *Connection) Flush() (int, error) {
	sent := 0
	for {
		batch := c.buffer.Peek(c.cfg.BatchSize)
		if len(batch) == 0 {
			return sent, nil
		}

		encodable := make([]*models.Reading, 0, len(batch))
		for _, r := range batch {
			if r.Finite() {
				encodable = append(encodable, r)
				continue
			}
			c.logger.Warn().
				Str("sensor_id", r.SensorID).
				Float64("temperature", r.Temperature).
				Float64("humidity", r.Humidity).
				Msg("Dropping reading with non-finite values")
		}

		if err := c.SendBatch(encodable); err != nil {
			return sent, err
		}
		c.buffer.Discard(len(batch))
		sent += len(encodable)
	}
}

func (c *Connection) sendMessage(msg *models.Message) error {
	c.stateMutex.RLock()
	conn := c.conn
	connected := c.state == StateConnected
	c.stateMutex.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (c *Connection) readLoop(ctx context.Context) {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return
	}

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeAck:
		c.updateLastPong()
		var ack models.AckMessage
		if err := msg.UnmarshalPayload(&ack); err == nil && ack.Rejected > 0 {
			c.logger.Warn().Int("rejected", ack.Rejected).Msg("Collector rejected readings")
		}
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Collector error")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) updateLastPong() {
	c.lastPongMutex.Lock()
	defer c.lastPongMutex.Unlock()
	c.lastPong = time.Now()
}

func (c *Connection) timeSinceLastPong() time.Duration {
	c.lastPongMutex.RLock()
	defer c.lastPongMutex.RUnlock()
	return time.Since(c.lastPong)
}

// heartbeatLoop sends periodic heartbeats and gives up on the socket when
// acks stop arriving. The ack to a heartbeat has until the next tick plus
// PongTimeout to arrive.
func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	c.updateLastPong()

	deadline := c.cfg.PingInterval + c.cfg.PongTimeout
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if since := c.timeSinceLastPong(); since > deadline {
				c.logger.Warn().Dur("since_last_ack", since).Msg("No ack received, connection appears dead")
				return
			}
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
		}
	}
}

func (c *Connection) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Flush()
			if err != nil {
				c.logger.Warn().Err(err).Int("sent", n).Msg("Failed to push readings")
				return
			}
			if n > 0 {
				c.logger.Info().Int("count", n).Int("buffered", c.buffer.Size()).Msg("Pushed readings")
			}
		}
	}
}

func (c *Connection) sendHeartbeat() error {
	heartbeat := models.HeartbeatMessage{
		DeviceID:   c.device.ID,
		Uptime:     int64(c.device.Uptime().Seconds()),
		BufferSize: c.buffer.Size(),
		Sensors:    len(c.device.Sensors),
	}
	msg, err := models.NewMessage(models.MessageTypeHeartbeat, heartbeat)
	if err != nil {
		return err
	}
	return c.sendMessage(msg)
}

// Close sends a close frame and drops the socket. A running Run loop will
// reconnect unless its context is cancelled too.
func (c *Connection) Close() error {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()

	if conn != nil {
		c.writeMutex.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()
	}
	c.disconnect()
	return nil
}
