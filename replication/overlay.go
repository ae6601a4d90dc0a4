package replication

import (
	"context"
	"io"
)

// JoinOptions selects the roles a node plays on a topic.
type JoinOptions struct {
	// Lookup finds and connects to peers announcing the topic.
	Lookup bool
	// Announce makes this node discoverable under the topic.
	Announce bool
}

// PeerInfo describes the remote end of a connection.
type PeerInfo struct {
	// Addr is a human-readable peer address (host:port or node name).
	Addr string
	// Initiator is true when the local side opened the connection.
	Initiator bool
}

// Conn is an established duplex byte stream to one peer.
type Conn struct {
	Stream io.ReadWriteCloser
	Peer   PeerInfo
}

// Handle is the result of joining a topic.
type Handle interface {
	// Connections yields every peer connection established for the topic.
	// The channel is closed after Leave.
	Connections() <-chan Conn
}

// Overlay is the discovery/connection layer the replication channel runs on.
// Implementations own peer lookup, NAT traversal, dial timeouts and retries.
type Overlay interface {
	Join(ctx context.Context, topic Topic, opts JoinOptions) (Handle, error)
	// Leave stops announcing and looking up the topic. Established
	// connections are left open.
	Leave(topic Topic) error
}
