// Package relay maintains the persistent duplex WebSocket session to the
// quote-distribution relay. The session survives transient disconnects by
// reconnecting with exponential backoff up to a bounded attempt count, after
// which it parks in StateDown and surfaces the failure to its state handlers
// instead of crashing or silently dropping open RFQs.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/covault/vaultrfq/internal/crypto"
	"github.com/covault/vaultrfq/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// defaultBaseDelay is the initial reconnect backoff.
	defaultBaseDelay = 1 * time.Second

	// defaultMaxDelay caps the exponential backoff.
	defaultMaxDelay = 30 * time.Second

	// defaultMaxAttempts bounds one reconnection sequence before the session
	// gives up and goes down.
	defaultMaxAttempts = 8
)

// State is the observable connection state of the session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateDown means a reconnection sequence exhausted its attempts. The
	// session stays down until Connect is called again.
	StateDown State = "down"
)

// QuoteHandler receives every inbound quote message.
type QuoteHandler func(QuoteMessage)

// FillHandler receives relay fill confirmations.
type FillHandler func(FillMessage)

// StateHandler observes connection state changes. err is non-nil when the
// transition was caused by a failure (in particular the StateDown transition).
type StateHandler func(state State, err error)

// Config carries the session's endpoint, credentials, and backoff tuning.
type Config struct {
	URL string

	// Optional HMAC credentials sent as dial headers.
	Auth *crypto.HMACAuth

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Session is one persistent duplex connection to the quote relay. Sends are
// rejected with domain.ErrRelayDown unless the session is connected; in-memory
// work elsewhere never blocks on session I/O.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	state  State
	closed bool
	done   chan struct{}

	// Quote subscriptions to restore after a reconnect.
	subscriptions map[string]struct{}

	handlerMu     sync.RWMutex
	quoteHandlers []QuoteHandler
	fillHandlers  []FillHandler
	stateHandlers []StateHandler
}

// NewSession creates a session for the given relay endpoint. Connect must be
// called before any send.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Session{
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "relay")),
		state:         StateDisconnected,
		done:          make(chan struct{}),
		subscriptions: make(map[string]struct{}),
	}
}

// Connect dials the relay and starts the read and ping loops. It may be
// called again after the session has gone down.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("relay: session closed: %w", domain.ErrRelayDown)
	}
	if s.state == StateConnected {
		return nil
	}

	s.setStateLocked(StateConnecting, nil)

	if err := s.dialLocked(ctx); err != nil {
		s.setStateLocked(StateDisconnected, err)
		return fmt.Errorf("relay: connect: %w", err)
	}

	s.setStateLocked(StateConnected, nil)

	go s.readLoop(s.conn)
	go s.pingLoop(s.conn)

	// Restore quote subscriptions after a reconnect.
	for rfqID := range s.subscriptions {
		msg := SubscribeQuotesMessage{Type: TypeSubscribeQuotes, RFQID: rfqID}
		if err := s.writeLocked(msg); err != nil {
			return fmt.Errorf("relay: restore subscription %s: %w", rfqID, err)
		}
	}

	return nil
}

// dialLocked performs the WebSocket handshake. Caller must hold s.mu.
func (s *Session) dialLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	var header http.Header
	if s.cfg.Auth != nil {
		header = http.Header{}
		for k, v := range s.cfg.Auth.SessionHeaders("GET", "/rfq/ws") {
			header.Set(k, v)
		}
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.conn = conn
	return nil
}

// Close shuts the session down permanently.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.setStateLocked(StateDisconnected, nil)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnQuote registers a handler for inbound quotes.
func (s *Session) OnQuote(h QuoteHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.quoteHandlers = append(s.quoteHandlers, h)
}

// OnFill registers a handler for relay fill confirmations.
func (s *Session) OnFill(h FillHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.fillHandlers = append(s.fillHandlers, h)
}

// OnStateChange registers an observer for connection state transitions.
func (s *Session) OnStateChange(h StateHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.stateHandlers = append(s.stateHandlers, h)
}

// CreateRFQ broadcasts an auction announcement.
func (s *Session) CreateRFQ(msg CreateRFQMessage) error {
	msg.Type = TypeCreateRFQ
	return s.send(msg)
}

// SubscribeQuotes opens the quote stream for an RFQ and tracks it for
// restoration after reconnects.
func (s *Session) SubscribeQuotes(rfqID string) error {
	s.mu.Lock()
	s.subscriptions[rfqID] = struct{}{}
	s.mu.Unlock()

	return s.send(SubscribeQuotesMessage{Type: TypeSubscribeQuotes, RFQID: rfqID})
}

// AcceptQuote notifies the relay which quote won the auction.
func (s *Session) AcceptQuote(rfqID, quoteID string) error {
	return s.send(AcceptQuoteMessage{Type: TypeAcceptQuote, RFQID: rfqID, QuoteID: quoteID})
}

// CancelRFQ withdraws an auction and stops tracking its subscription.
func (s *Session) CancelRFQ(rfqID string) error {
	s.mu.Lock()
	delete(s.subscriptions, rfqID)
	s.mu.Unlock()

	return s.send(CancelRFQMessage{Type: TypeCancelRFQ, RFQID: rfqID})
}

// Unsubscribe stops tracking an RFQ's quote stream without sending anything;
// used when an RFQ reaches a terminal state locally.
func (s *Session) Unsubscribe(rfqID string) {
	s.mu.Lock()
	delete(s.subscriptions, rfqID)
	s.mu.Unlock()
}

// send marshals and writes one outbound message, rejecting when the session
// is not connected.
func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.conn == nil {
		return fmt.Errorf("relay: state %s: %w", s.state, domain.ErrRelayDown)
	}
	return s.writeLocked(v)
}

// writeLocked writes a JSON message. Caller must hold s.mu.
func (s *Session) writeLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads until the connection drops, then hands off to reconnect.
// It is bound to the conn it was started with so a stale loop from a previous
// connection exits instead of stealing reads.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			s.mu.Lock()
			if s.conn != conn {
				// A newer connection took over.
				s.mu.Unlock()
				return
			}
			s.conn = nil
			s.setStateLocked(StateDisconnected, err)
			s.mu.Unlock()

			s.logger.Warn("relay connection lost", slog.String("error", err.Error()))
			s.reconnect()
			return
		}

		s.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. Exits when the conn it was started
// with is replaced or the session closes.
func (s *Session) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			current := s.conn
			s.mu.RUnlock()
			if current != conn {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect runs one bounded backoff sequence: base delay doubling up to the
// cap, at most MaxAttempts tries. On success the session is connected again
// and subscriptions are restored; on exhaustion it transitions to StateDown.
func (s *Session) reconnect() {
	delay := s.cfg.BaseDelay

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			s.logger.Info("relay reconnected", slog.Int("attempt", attempt))
			return
		}

		s.logger.Warn("relay reconnect failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}

	s.mu.Lock()
	s.setStateLocked(StateDown, fmt.Errorf("relay: %d reconnect attempts exhausted: %w", s.cfg.MaxAttempts, domain.ErrRelayDown))
	s.mu.Unlock()
}

// setStateLocked updates the state and notifies observers. Caller must hold
// s.mu; handlers run on their own goroutine so observers cannot deadlock the
// session by calling back into it.
func (s *Session) setStateLocked(state State, err error) {
	if s.state == state {
		return
	}
	s.state = state

	s.handlerMu.RLock()
	handlers := make([]StateHandler, len(s.stateHandlers))
	copy(handlers, s.stateHandlers)
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		go h(state, err)
	}
}

// handleMessage routes one inbound frame by its type tag. Malformed frames
// are logged and dropped; they never take the session down.
func (s *Session) handleMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Warn("dropping malformed relay frame", slog.String("error", err.Error()))
		return
	}

	switch envelope.Type {
	case TypeQuote:
		var msg QuoteMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("dropping malformed quote", slog.String("error", err.Error()))
			return
		}
		if msg.RFQID == "" || msg.QuoteID == "" {
			s.logger.Warn("dropping quote without ids")
			return
		}

		s.handlerMu.RLock()
		handlers := s.quoteHandlers
		s.handlerMu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}

	case TypeFill:
		var msg FillMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("dropping malformed fill", slog.String("error", err.Error()))
			return
		}

		s.handlerMu.RLock()
		handlers := s.fillHandlers
		s.handlerMu.RUnlock()
		for _, h := range handlers {
			h(msg)
		}

	default:
		s.logger.Debug("ignoring relay frame", slog.String("type", envelope.Type))
	}
}
