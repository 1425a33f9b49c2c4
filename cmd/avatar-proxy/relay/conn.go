package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

const (
	// Time allowed to write a message to the relay
	writeWait = 5 * time.Second

	// Time allowed for the best-effort CLOSE on teardown
	closeWait = 1 * time.Second

	// Relays may send large profile events
	maxMessageSize = 512 * 1024

	// Buffered events per subscription before the read loop waits on the consumer
	subscriptionBuffer = 64
)

// ErrRelayUnavailable means the relay could not be reached or dropped the
// connection. It is distinct from "reached, no matching profile".
var ErrRelayUnavailable = errors.New("relay unavailable")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Conn is one websocket connection to a relay with an explicit registry
// of open subscriptions
type Conn struct {
	url    string
	ws     *websocket.Conn
	logger Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*Subscription

	done      chan struct{}
	closeOnce sync.Once
	closing   bool
}

// Subscription receives events for one REQ until closed
type Subscription struct {
	ID string

	// Events is never closed; select on Done and EndOfStored alongside it
	Events chan *nostr.Event

	eose     chan struct{}
	eoseOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once

	conn *Conn
}

// Dial opens a connection. Handshake failures wrap ErrRelayUnavailable.
func Dial(ctx context.Context, url string, connectTimeout time.Duration, logger Logger) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ws, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrRelayUnavailable, url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		url:    url,
		ws:     ws,
		logger: logger,
		subs:   make(map[string]*Subscription),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	logger.Debug("relay connected", "relay", url)
	return c, nil
}

// Done is closed once the connection is gone
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Subscribe sends a REQ for filter and registers the subscription
func (c *Conn) Subscribe(filter nostr.Filter) (*Subscription, error) {
	sub := &Subscription{
		ID:     uuid.NewString(),
		Events: make(chan *nostr.Event, subscriptionBuffer),
		eose:   make(chan struct{}),
		done:   make(chan struct{}),
		conn:   c,
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection closed", ErrRelayUnavailable)
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	if err := c.writeJSON([]interface{}{"REQ", sub.ID, filter}, writeWait); err != nil {
		c.unregister(sub.ID)
		return nil, fmt.Errorf("%w: send REQ: %v", ErrRelayUnavailable, err)
	}

	c.logger.Debug("relay subscription opened", "relay", c.url, "sub_id", sub.ID)
	return sub, nil
}

// Close cancels every subscription and closes the socket. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		subs := make([]*Subscription, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()

		for _, s := range subs {
			s.Close()
		}

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(closeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
		c.logger.Debug("relay disconnected", "relay", c.url)
	})
	return err
}

// Done is closed when the subscription is closed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// EndOfStored is closed when the relay signals EOSE
func (s *Subscription) EndOfStored() <-chan struct{} {
	return s.eose
}

// Close sends a best-effort CLOSE and drops local state
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.unregister(s.ID)
		select {
		case <-s.conn.done:
		default:
			if err := s.conn.writeJSON([]interface{}{"CLOSE", s.ID}, closeWait); err != nil {
				s.conn.logger.Debug("relay CLOSE failed", "sub_id", s.ID, "error", err)
			}
		}
	})
}

func (c *Conn) unregister(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Conn) lookup(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Conn) writeJSON(v interface{}, wait time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wait))
	return c.ws.WriteJSON(v)
}

// readLoop dispatches inbound frames until the socket fails
func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.logger.Warn("relay connection lost", "relay", c.url, "error", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
		c.logger.Debug("relay sent malformed frame", "relay", c.url)
		return
	}

	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		sub := c.lookup(subID)
		if sub == nil {
			return
		}
		ev := &nostr.Event{}
		if err := json.Unmarshal(frame[2], ev); err != nil {
			c.logger.Debug("relay sent undecodable event", "sub_id", subID, "error", err)
			return
		}
		select {
		case sub.Events <- ev:
		case <-sub.done:
		}

	case "EOSE":
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		if sub := c.lookup(subID); sub != nil {
			sub.eoseOnce.Do(func() { close(sub.eose) })
		}

	case "NOTICE":
		var notice string
		_ = json.Unmarshal(frame[1], &notice)
		c.logger.Debug("relay notice", "relay", c.url, "notice", notice)

	case "CLOSED":
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		// Relay refused or ended the subscription; treat like end of results
		if sub := c.lookup(subID); sub != nil {
			sub.eoseOnce.Do(func() { close(sub.eose) })
		}
	}
}
