package wserver

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("connection is closed")

const writeWait = 5 * time.Second

// Conn wraps a websocket connection. Writes are serialized because
// gorilla/websocket allows one concurrent writer only.
type Conn struct {
	Conn *websocket.Conn

	AfterReadFunc   func(messageType int, r io.Reader)
	BeforeCloseFunc func()

	id      string
	writeMu sync.Mutex
	once    sync.Once
	stopCh  chan struct{}
}

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{
		Conn:   conn,
		id:     uuid.New().String(),
		stopCh: make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.stopCh:
		return 0, errConnClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.Conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Listen reads until the peer goes away or the connection is closed.
func (c *Conn) Listen() {
	defer c.Close()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		messageType, r, err := c.Conn.NextReader()
		if err != nil {
			return
		}
		if c.AfterReadFunc != nil {
			c.AfterReadFunc(messageType, r)
		}
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		if c.BeforeCloseFunc != nil {
			c.BeforeCloseFunc()
		}
		close(c.stopCh)
		_ = c.Conn.Close()
	})
}

// subscriptions maps a topic to the connections listening to it.
type subscriptions struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Conn
}

func newSubscriptions() *subscriptions {
	return &subscriptions{conns: make(map[string]map[string]*Conn)}
}

func (s *subscriptions) add(topic string, conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[topic] == nil {
		s.conns[topic] = make(map[string]*Conn)
	}
	s.conns[topic][conn.ID()] = conn
}

// removeAll drops conn from every topic.
func (s *subscriptions) removeAll(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, conns := range s.conns {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(s.conns, topic)
		}
	}
}

func (s *subscriptions) get(topic string) []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Conn, 0, len(s.conns[topic]))
	for _, c := range s.conns[topic] {
		result = append(result, c)
	}
	return result
}

func (s *subscriptions) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, conns := range s.conns {
		for id := range conns {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
