package netdist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageKind tags a wire message's role in the request/ready/fail
// handshake a node conducts with the distributor over a websocket
// connection.
type MessageKind string

const (
	MsgRequest MessageKind = "request"
	MsgReady   MessageKind = "ready"
	MsgFail    MessageKind = "fail"
)

// Message is the wire envelope exchanged between a node and the
// distributor's Server. Payload is carried on the wire but neither Server
// nor Client sets or reads it: Server submits every request as a single
// pair, and its ready/fail replies carry no outcome or reason.
type Message struct {
	Kind        MessageKind     `json:"kind"`
	RequestID   uuid.UUID       `json:"request_id"`
	LocalNode   string          `json:"local_node"`
	RemoteNode  string          `json:"remote_node"`
	PID         int             `json:"pid"`
	LocalQubit  int             `json:"local_qubit"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server fronts a Distributor over websocket connections, one per node.
type Server struct {
	dist   *Distributor
	logger log.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn // node name -> connection
}

// NewServer wraps a Distributor for websocket access.
func NewServer(dist *Distributor) *Server {
	return &Server{
		dist:   dist,
		logger: log.New("component", "netdist-server"),
		conns:  make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades an incoming connection and services messages from it
// until reading the next message fails (for example, because the
// connection closed).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("connection closed", "err", err)
			return
		}
		s.handle(r.Context(), conn, msg)
	}
}

func (s *Server) handle(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Kind != MsgRequest {
		return
	}

	s.mu.Lock()
	s.conns[msg.LocalNode] = conn
	s.mu.Unlock()

	req := Request{
		ID:          msg.RequestID,
		LocalNode:   msg.LocalNode,
		RemoteNode:  msg.RemoteNode,
		PID:         msg.PID,
		NumPairs:    1,
		SubmittedAt: time.Now(),
	}
	outcomes, err := s.dist.Submit(ctx, time.Now(), req)
	if err != nil {
		_ = conn.WriteJSON(Message{Kind: MsgFail, RequestID: msg.RequestID, LocalNode: msg.LocalNode, RemoteNode: msg.RemoteNode, PID: msg.PID})
		return
	}

	go func() {
		for out := range outcomes {
			kind := MsgReady
			if !out.Success {
				kind = MsgFail
			}
			_ = conn.WriteJSON(Message{Kind: kind, RequestID: out.RequestID, LocalNode: msg.LocalNode, RemoteNode: msg.RemoteNode, PID: msg.PID})
		}
	}()
}

// Client is a node-side websocket connection to a distributor Server.
type Client struct {
	conn *websocket.Conn
}

// Dial opens a client connection to a distributor server at url.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("netdist: dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// SendRequest submits an entanglement request over the connection.
func (c *Client) SendRequest(localNode, remoteNode string, pid int) (uuid.UUID, error) {
	id := uuid.New()
	msg := Message{Kind: MsgRequest, RequestID: id, LocalNode: localNode, RemoteNode: remoteNode, PID: pid}
	if err := c.conn.WriteJSON(msg); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ReadMessage blocks for the next message from the server.
func (c *Client) ReadMessage() (Message, error) {
	var msg Message
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
