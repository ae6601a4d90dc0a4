package memory

import (
	"bufio"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/genlru/replication"
)

func topic(t *testing.T, name string) replication.Topic {
	t.Helper()
	tp, err := replication.HashTopic(name)
	require.NoError(t, err)
	return tp
}

var both = replication.JoinOptions{Lookup: true, Announce: true}

func TestHub_ConnectsMatchingNodes(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	tp := topic(t, "memory-overlay-test")
	a, b := hub.Node("a"), hub.Node("b")

	ha, err := a.Join(context.Background(), tp, both)
	require.NoError(t, err)
	hb, err := b.Join(context.Background(), tp, both)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Members(tp))

	ca := <-ha.Connections()
	cb := <-hb.Connections()
	assert.Equal(t, "b", ca.Peer.Addr)
	assert.Equal(t, "a", cb.Peer.Addr)
	assert.False(t, ca.Peer.Initiator)
	assert.True(t, cb.Peer.Initiator)

	go func() { _, _ = cb.Stream.Write([]byte("hello\n")) }()
	line, err := bufio.NewReader(ca.Stream).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestHub_RolesMustMatch(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	tp := topic(t, "memory-overlay-roles")
	ha, err := hub.Node("a").Join(context.Background(), tp, replication.JoinOptions{Announce: true})
	require.NoError(t, err)
	_, err = hub.Node("b").Join(context.Background(), tp, replication.JoinOptions{Announce: true})
	require.NoError(t, err)

	select {
	case c := <-ha.Connections():
		t.Fatalf("announce-only nodes must not connect, got %+v", c.Peer)
	default:
	}

	_, err = hub.Node("c").Join(context.Background(), tp, replication.JoinOptions{Lookup: true})
	require.NoError(t, err)
	c := <-ha.Connections()
	assert.Equal(t, "c", c.Peer.Addr)
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ha, err := hub.Node("a").Join(context.Background(), topic(t, "first-topic"), both)
	require.NoError(t, err)
	_, err = hub.Node("b").Join(context.Background(), topic(t, "second-topic"), both)
	require.NoError(t, err)

	select {
	case c := <-ha.Connections():
		t.Fatalf("nodes on different topics connected: %+v", c.Peer)
	default:
	}
}

func TestNode_JoinTwiceAndLeave(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	tp := topic(t, "memory-overlay-leave")
	n := hub.Node("a")

	h, err := n.Join(context.Background(), tp, both)
	require.NoError(t, err)
	_, err = n.Join(context.Background(), tp, both)
	require.ErrorIs(t, err, ErrAlreadyJoined)

	require.NoError(t, n.Leave(tp))
	_, ok := <-h.Connections()
	assert.False(t, ok, "Leave must close the connection channel")
	assert.Equal(t, 0, hub.Members(tp))

	// Leaving again is a no-op.
	require.NoError(t, n.Leave(tp))
}
