// Package memory is an in-process replication overlay. Nodes created from the
// same Hub find each other by topic and are connected with net.Pipe.
package memory

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/IvanBrykalov/genlru/replication"
)

// ErrAlreadyJoined is returned by Join when the node is already on the topic.
var ErrAlreadyJoined = errors.New("memory: topic already joined")

// backlog bounds the undelivered connections per member; extra ones are closed.
const backlog = 64

// Hub is the rendezvous point shared by in-process nodes.
type Hub struct {
	mu     sync.Mutex
	topics map[replication.Topic]map[*Node]*member
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[replication.Topic]map[*Node]*member)}
}

// Node returns a new overlay endpoint named name. The name is reported to
// peers as PeerInfo.Addr.
func (h *Hub) Node(name string) *Node {
	return &Node{hub: h, name: name}
}

// Members reports how many nodes are on topic.
func (h *Hub) Members(topic replication.Topic) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Node is one participant of a Hub. It implements replication.Overlay.
type Node struct {
	hub  *Hub
	name string
}

var _ replication.Overlay = (*Node)(nil)

// Name returns the node name.
func (n *Node) Name() string { return n.name }

type member struct {
	opts replication.JoinOptions

	mu     sync.Mutex
	conns  chan replication.Conn
	closed bool
}

func (m *member) Connections() <-chan replication.Conn { return m.conns }

// deliver hands conn to the member or closes it when the member is gone or
// not draining.
func (m *member) deliver(conn replication.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = conn.Stream.Close()
		return
	}
	select {
	case m.conns <- conn:
	default:
		_ = conn.Stream.Close()
	}
}

func (m *member) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.conns)
	}
}

// Join registers the node on topic and connects it with every member whose
// roles match: one side looks up while the other announces.
func (n *Node) Join(_ context.Context, topic replication.Topic, opts replication.JoinOptions) (replication.Handle, error) {
	h := n.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.topics[topic]
	if members == nil {
		members = make(map[*Node]*member)
		h.topics[topic] = members
	}
	if _, ok := members[n]; ok {
		return nil, ErrAlreadyJoined
	}

	me := &member{opts: opts, conns: make(chan replication.Conn, backlog)}
	for other, m := range members {
		dial := opts.Lookup && m.opts.Announce
		accept := opts.Announce && m.opts.Lookup
		if !dial && !accept {
			continue
		}
		local, remote := net.Pipe()
		me.deliver(replication.Conn{
			Stream: local,
			Peer:   replication.PeerInfo{Addr: other.name, Initiator: dial},
		})
		m.deliver(replication.Conn{
			Stream: remote,
			Peer:   replication.PeerInfo{Addr: n.name, Initiator: !dial},
		})
	}
	members[n] = me
	return me, nil
}

// Leave removes the node from topic and closes its connection channel.
// Established pipes stay open. Leaving a topic that was not joined is a no-op.
func (n *Node) Leave(topic replication.Topic) error {
	h := n.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.topics[topic]
	m, ok := members[n]
	if !ok {
		return nil
	}
	delete(members, n)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
	m.close()
	return nil
}
