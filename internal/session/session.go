// Package session implements the per-client session layer of spec.md
// §4.F over a websocket transport: a subscription set, an outbound message
// queue, ping/pong with a 30s timeout, and graceful disconnect that
// releases every subscription the client held.
//
// Grounded on saiputravu-Exchange/internal/net/server.go's Server/
// ClientSession/sessionHandler shape (accept loop, per-connection worker,
// a tomb per subsystem) and internal/worker.go's WorkerPool (here
// internal/wpool), adapted from the teacher's fixed-width binary protocol
// to the framed-JSON event channel spec.md §6 names, over
// github.com/gorilla/websocket.
package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"oes/internal/wire"
	"oes/internal/wpool"
)

const (
	pongWait     = 30 * time.Second
	pingInterval = (pongWait * 9) / 10 // ping before the read deadline expires
	writeWait    = 10 * time.Second
	outboundSize = 256
	defaultPoolN = 32
)

// Subscriber is the subset of *bus.Bus a session needs: topic subscription.
// Kept as an interface so tests can fake it without constructing a store.
type Subscriber interface {
	Subscribe(topic string) (<-chan []byte, func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Manager accepts websocket connections and runs one Session per
// connection, bounding concurrent session handshakes with a worker pool —
// the same role the teacher's WorkerPool plays over raw TCP accepts.
type Manager struct {
	bus  Subscriber
	pool wpool.Pool

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewManager constructs a Manager fanning out events from bus.
func NewManager(bus Subscriber) *Manager {
	return &Manager{
		bus:      bus,
		pool:     wpool.New(defaultPoolN),
		sessions: make(map[*Session]struct{}),
	}
}

// Run starts the manager's worker pool under t.
func (m *Manager) Run(t *tomb.Tomb) {
	t.Go(func() error {
		m.pool.Setup(t, m.handleConn)
		return nil
	})
}

// Upgrade promotes an HTTP request to a websocket connection and hands it
// to the worker pool to run as a session. It returns once the handshake is
// queued; the session itself runs asynchronously until disconnect.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	m.pool.AddTask(conn)
	return nil
}

func (m *Manager) handleConn(t *tomb.Tomb, task any) error {
	conn, ok := task.(*websocket.Conn)
	if !ok {
		return nil
	}
	s := newSession(conn, m.bus)

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, s)
		m.mu.Unlock()
	}()

	s.run(t)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Session is one connected client: its subscription set, outbound queue,
// and last-seen timestamp (spec.md §4.F).
type Session struct {
	conn *websocket.Conn
	bus  Subscriber

	outbound chan []byte

	mu            sync.Mutex
	subscriptions map[string]func() // topic -> bus cancel func
	lastSeen      time.Time
}

func newSession(conn *websocket.Conn, bus Subscriber) *Session {
	return &Session{
		conn:          conn,
		bus:           bus,
		outbound:      make(chan []byte, outboundSize),
		subscriptions: make(map[string]func()),
		lastSeen:      time.Now(),
	}
}

// run drives one session to completion: a read loop, a write loop, and a
// ping ticker, all torn down together on first failure or on t.Dying().
func (s *Session) run(t *tomb.Tomb) {
	defer s.disconnect()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			// Unblocks a read loop parked in conn.ReadMessage so shutdown from
			// the write or ping side doesn't wait for the client to speak.
			_ = s.conn.Close()
		})
	}

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.writeLoop(done, stop)
	go s.pingLoop(done, stop)

	for {
		select {
		case <-t.Dying():
			stop()
			return
		case <-done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("session read closed")
			stop()
			return
		}
		s.touch()
		s.handleInbound(raw)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) handleInbound(raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Msg("session received malformed control message")
		return
	}
	switch msg.Type {
	case wire.KindSubscribe:
		s.subscribe(msg.Channel)
	case wire.KindUnsubscribe:
		s.unsubscribe(msg.Channel)
	case wire.KindPing:
		s.enqueue(wire.Pong)
	}
}

// subscribe is idempotent: subscribing twice to the same topic keeps the
// first registration, per spec.md §8's "subscribe(t); subscribe(t) yields
// one subscription".
func (s *Session) subscribe(topic string) {
	s.mu.Lock()
	if _, already := s.subscriptions[topic]; already {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ch, cancel := s.bus.Subscribe(topic)

	s.mu.Lock()
	if _, already := s.subscriptions[topic]; already {
		s.mu.Unlock()
		cancel()
		return
	}
	s.subscriptions[topic] = cancel
	s.mu.Unlock()

	go s.relay(topic, ch)
}

func (s *Session) relay(topic string, ch <-chan []byte) {
	for payload := range ch {
		s.mu.Lock()
		_, stillSubscribed := s.subscriptions[topic]
		s.mu.Unlock()
		if !stillSubscribed {
			return
		}
		s.enqueue(payload)
	}
}

func (s *Session) unsubscribe(topic string) {
	s.mu.Lock()
	cancel, ok := s.subscriptions[topic]
	if ok {
		delete(s.subscriptions, topic)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Session) enqueue(payload []byte) {
	select {
	case s.outbound <- payload:
	default:
		log.Warn().Msg("session outbound queue full, dropping message")
	}
}

func (s *Session) writeLoop(done <-chan struct{}, stop func()) {
	for {
		select {
		case <-done:
			return
		case payload, ok := <-s.outbound:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				stop()
				return
			}
		}
	}
}

func (s *Session) pingLoop(done <-chan struct{}, stop func()) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				stop()
				return
			}
		}
	}
}

// disconnect releases every subscription the session held — spec.md §4.F's
// "on disconnect, the client's subscriptions are released".
func (s *Session) disconnect() {
	s.mu.Lock()
	cancels := make([]func(), 0, len(s.subscriptions))
	for topic, cancel := range s.subscriptions {
		cancels = append(cancels, cancel)
		delete(s.subscriptions, topic)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	close(s.outbound)
	_ = s.conn.Close()
}
