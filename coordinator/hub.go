// Package coordinator serves one build's BuildEvent stream over a
// WebSocket connection (spec.md §6). It is a direct descendant of the
// teacher's Coordinator: the same reconnect-free read/write/ping loop
// structure, generalized from a client that dials out to a hub and
// exchanges typed WSMessages, into a server that accepts a client
// connection, reads one buildevent.Request, and streams buildevent.
// BuildEvent values back until the build finishes or the client
// disconnects.
package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cealn-go/cealn/buildevent"
	"github.com/cealn-go/cealn/common"
)

// Upgrader is shared across sessions; it accepts connections from any
// origin.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session is one client's build: a live WebSocket connection plus the
// channel its driver publishes BuildEvents to.
type Session struct {
	ID     uint64
	Events chan buildevent.BuildEvent

	conn      *websocket.Conn
	log       *common.ContextLogger
	closeOnce sync.Once
	done      chan struct{}
}

// Close stops the session's writer loop and closes the connection.
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Publish enqueues an event for delivery. If the session's outgoing
// buffer is full the event is dropped rather than blocking the caller —
// a build must never stall on a slow client.
func (s *Session) Publish(ev buildevent.BuildEvent) {
	select {
	case s.Events <- ev:
	default:
		s.log.WithField("kind", ev.Data.Kind.String()).Warn("event buffer full, dropping event")
	}
}

// Hub accepts WebSocket connections for the build-event stream and hands
// each one off as a Session, following the teacher's ping/read/write
// split into independent goroutines per connection.
type Hub struct {
	log       *common.ContextLogger
	nextID    uint64
	pingEvery time.Duration
}

// NewHub creates a Hub. pingEvery is the keepalive ping interval; zero
// selects a 30-second default, matching the teacher's DefaultConfig.
func NewHub(pingEvery time.Duration) *Hub {
	if pingEvery <= 0 {
		pingEvery = 30 * time.Second
	}
	return &Hub{
		log:       common.NewContextLogger(common.Logger, map[string]interface{}{"component": "coordinator"}),
		pingEvery: pingEvery,
	}
}

// Accept upgrades conn-ready request w/r to a WebSocket, reads the
// client's initial buildevent.Request, invokes run with a fresh Session,
// and serves that session's outgoing event stream until the build
// finishes (run returns) or the client disconnects.
//
// run is responsible for driving the actual build (requesting queries
// from a query.Graph, translating their progress into session.Publish
// calls) and must return once the build is complete; Accept closes the
// session and the connection when it does.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, run func(req buildevent.Request, s *Session)) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("coordinator: upgrading connection: %w", err)
	}

	id := atomic.AddUint64(&h.nextID, 1)
	s := &Session{
		ID:     id,
		Events: make(chan buildevent.BuildEvent, 256),
		conn:   conn,
		log:    h.log.WithField("session", id),
		done:   make(chan struct{}),
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("coordinator: reading build request: %w", err)
	}
	var req buildevent.Request
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close()
		return fmt.Errorf("coordinator: parsing build request: %w", err)
	}

	s.log.WithField("targets", len(req.Targets)).Info("build request accepted")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(h.pingEvery)
	}()

	go func() {
		defer s.Close()
		run(req, s)
	}()

	// Detect client disconnect: a WebSocket server connection only
	// produces errors from ReadMessage, so a dedicated reader drains
	// and discards control frames until the peer goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.Close()
				return
			}
		}
	}()

	<-s.done
	<-writerDone
	return nil
}

// writeLoop drains Events to the connection and sends periodic pings,
// mirroring the teacher's senderLoop/pingLoop split.
func (s *Session) writeLoop(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.WithError(err).Warn("failed to marshal event")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.WithError(err).Debug("write failed, closing session")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				s.log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
