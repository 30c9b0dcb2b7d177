package waclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/whatsgate/whatsgate/pkg/bus"
	"github.com/whatsgate/whatsgate/pkg/config"
	"github.com/whatsgate/whatsgate/pkg/logger"
	"github.com/whatsgate/whatsgate/pkg/utils"
)

const sendAckTimeout = 5 * time.Second

// frame is the JSON envelope spoken over the bridge websocket.
type frame struct {
	Type string `json:"type"`

	// message and send fields
	From     string   `json:"from,omitempty"`
	Author   string   `json:"author,omitempty"`
	FromName string   `json:"from_name,omitempty"`
	To       string   `json:"to,omitempty"`
	Body     string   `json:"body,omitempty"`
	ID       *frameID `json:"id,omitempty"`

	// status fields
	Ready bool                   `json:"ready,omitempty"`
	Info  map[string]interface{} `json:"info,omitempty"`

	// first-run pairing
	Code string `json:"code,omitempty"`

	// send/ack bookkeeping
	Tag   string `json:"tag,omitempty"`
	Error string `json:"error,omitempty"`
}

type frameID struct {
	Remote string `json:"remote"`
}

type sendResult struct {
	id  string
	err error
}

// Client maintains the websocket session to the WhatsApp bridge: it tracks
// connection readiness, publishes inbound messages onto the bus, and turns
// SendText calls into send frames acknowledged by the bridge.
type Client struct {
	cfg    config.WhatsAppConfig
	events bus.Publisher

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   bool
	info    map[string]interface{}
	lastQR  string
	pending map[string]chan sendResult
	running bool
}

func New(cfg config.WhatsAppConfig, events bus.Publisher) *Client {
	return &Client{
		cfg:     cfg,
		events:  events,
		pending: make(map[string]chan sendResult),
	}
}

func (c *Client) Start(ctx context.Context) error {
	logger.InfoCF("whatsapp", "Connecting to bridge", map[string]interface{}{
		"url": c.cfg.BridgeURL,
	})

	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to WhatsApp bridge: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.running = true
	c.mu.Unlock()

	logger.InfoC("whatsapp", "Bridge connected")

	go c.listen(ctx)

	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			logger.WarnCF("whatsapp", "Error closing bridge connection", map[string]interface{}{
				"error": err.Error(),
			})
		}
		c.conn = nil
	}
	c.ready = false

	return nil
}

// SendText sends a text message and returns the transport message id from
// the bridge ack. The id seeds correlation-id matching for reply waits.
func (c *Client) SendText(ctx context.Context, to, message string) (string, error) {
	if !c.IsReady() {
		return "", fmt.Errorf("whatsapp client not ready")
	}

	tag := uuid.NewString()
	ack := make(chan sendResult, 1)

	c.mu.Lock()
	c.pending[tag] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
	}()

	if err := c.write(frame{
		Type: "send",
		Tag:  tag,
		To:   NormalizeJID(to),
		Body: message,
	}); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(sendAckTimeout)
	defer timer.Stop()

	select {
	case res := <-ack:
		return res.id, res.err
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for send ack")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && c.conn != nil
}

// Info returns the bridge's client info object, nil when unknown.
func (c *Client) Info() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// QR returns the latest pairing code held, empty once authenticated.
func (c *Client) QR() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastQR
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	return conn, err
}

func (c *Client) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("bridge connection not established")
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		running := c.running
		c.mu.Unlock()

		if !running {
			return
		}

		if conn == nil {
			newConn, err := c.dial()
			if err != nil {
				logger.WarnCF("whatsapp", "Bridge reconnect failed", map[string]interface{}{
					"error": err.Error(),
				})
				time.Sleep(2 * time.Second)
				continue
			}
			c.mu.Lock()
			c.conn = newConn
			c.mu.Unlock()
			logger.InfoC("whatsapp", "Bridge reconnected")
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.WarnCF("whatsapp", "Bridge read error", map[string]interface{}{
				"error": err.Error(),
			})
			c.mu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
				c.ready = false
			}
			c.mu.Unlock()
			time.Sleep(2 * time.Second)
			continue
		}

		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		logger.WarnCF("whatsapp", "Failed to unmarshal bridge frame", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	switch f.Type {
	case "message":
		c.handleMessage(f)
	case "status":
		c.handleStatus(f)
	case "qr":
		c.mu.Lock()
		c.lastQR = f.Code
		c.mu.Unlock()
		logger.InfoC("whatsapp", "Pairing QR received, scan it with your phone")
	case "ack":
		c.handleAck(f)
	}
}

func (c *Client) handleMessage(f frame) {
	if f.From == "" {
		return
	}
	if !c.allowed(f.From, f.Author) {
		logger.DebugCF("whatsapp", "Dropped message from sender outside allow list", map[string]interface{}{
			"from": f.From,
		})
		return
	}

	ev := bus.InboundEvent{
		SenderID:   f.From,
		AuthorID:   f.Author,
		Body:       f.Body,
		SenderName: f.FromName,
	}
	if f.ID != nil {
		ev.CorrelationID = f.ID.Remote
	}

	logger.InfoCF("whatsapp", "Message received", map[string]interface{}{
		"from": f.From,
		"body": utils.Truncate(f.Body, 50),
	})

	c.events.PublishInbound(ev)
}

func (c *Client) handleStatus(f frame) {
	c.mu.Lock()
	c.ready = f.Ready
	if f.Info != nil {
		c.info = f.Info
	}
	if f.Ready {
		c.lastQR = ""
	}
	c.mu.Unlock()

	logger.InfoCF("whatsapp", "Bridge status changed", map[string]interface{}{
		"ready": f.Ready,
	})
}

func (c *Client) handleAck(f frame) {
	c.mu.Lock()
	ack, ok := c.pending[f.Tag]
	c.mu.Unlock()
	if !ok {
		return
	}

	var res sendResult
	if f.Error != "" {
		res.err = fmt.Errorf("bridge send failed: %s", f.Error)
	} else if f.ID != nil {
		res.id = f.ID.Remote
	}

	select {
	case ack <- res:
	default:
	}
}

// allowed applies the configured sender allow list. Entries can be bare
// numbers or full jids; an empty list allows everyone.
func (c *Client) allowed(sender, author string) bool {
	if len(c.cfg.AllowFrom) == 0 {
		return true
	}
	for _, entry := range c.cfg.AllowFrom {
		jid := NormalizeJID(entry)
		if sender == jid || author == jid {
			return true
		}
		if BareNumber(sender) == entry || (author != "" && BareNumber(author) == entry) {
			return true
		}
	}
	return false
}
