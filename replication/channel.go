package replication

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Defaults applied by New.
const (
	DefaultQueueSize    = 1024
	DefaultMaxLineBytes = 1 << 20
)

// ErrNoOverlay is returned by New when Config.Overlay is nil.
var ErrNoOverlay = errors.New("replication: no overlay configured")

// State is the lifecycle state of a Channel.
type State int32

const (
	// StateDisconnected: no peer stream. Initial state, and terminal after
	// a failed join or once the last peer stream ended.
	StateDisconnected State = iota
	// StateJoining: waiting for the overlay to join the topic.
	StateJoining
	// StateConnected: at least one peer stream is attached.
	StateConnected
	// StateClosed: Close was called.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Store receives mutations that arrived from peers. Implementations must
// apply them without publishing them again.
type Store[K comparable, V any] interface {
	ApplySet(k K, v V)
	ApplyDelete(k K)
}

// Config configures a replication Channel. Zero values are safe except
// Topic and Overlay.
type Config struct {
	// Topic is the shared topic string (at least MinTopicLen characters).
	Topic string
	// Overlay discovers and connects peers.
	Overlay Overlay

	// Logger receives connection events and dropped lines.
	// Nil => a timestamped logger on stderr.
	Logger *zerolog.Logger
	// QueueSize bounds the per-peer outbound queue; a full queue drops lines.
	QueueSize int
	// MaxLineBytes bounds one encoded mutation. Longer lines are neither sent
	// nor applied.
	MaxLineBytes int
	// Metrics receives replication signals. Nil => NoopMetrics.
	Metrics Metrics
	// OnStateChange is called after every state transition, outside locks.
	OnStateChange func(State)
}

// Channel replicates set/delete mutations of one cache instance with the
// peers connected on its topic.
//
// Loop prevention is single-hop: a mutation received from a peer is applied
// to the Store and never forwarded. Topologies with more than two nodes
// therefore need every node connected to every other node.
type Channel[K comparable, V any] struct {
	cfg   Config
	topic Topic
	store Store[K, V]
	log   zerolog.Logger

	// ---- guarded by mu ----
	mu     sync.Mutex
	state  State
	peers  map[*peer]struct{}
	joined bool
	left   bool
	cancel context.CancelFunc

	group errgroup.Group
}

// peer is one attached stream with its outbound queue.
type peer struct {
	info      PeerInfo
	stream    io.ReadWriteCloser
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.stream.Close()
	})
}

// New validates cfg and returns a Channel in StateDisconnected.
// Call Start to join the topic.
func New[K comparable, V any](store Store[K, V], cfg Config) (*Channel[K, V], error) {
	topic, err := HashTopic(cfg.Topic)
	if err != nil {
		return nil, err
	}
	if cfg.Overlay == nil {
		return nil, ErrNoOverlay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Logger == nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		cfg.Logger = &l
	}

	return &Channel[K, V]{
		cfg:   cfg,
		topic: topic,
		store: store,
		log:   cfg.Logger.With().Str("component", "replication").Str("topic", topic.short()).Logger(),
		peers: make(map[*peer]struct{}),
	}, nil
}

// Topic returns the rendezvous identifier of the channel.
func (c *Channel[K, V]) Topic() Topic { return c.topic }

// State returns the current lifecycle state.
func (c *Channel[K, V]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether at least one peer stream is attached.
func (c *Channel[K, V]) Connected() bool { return c.State() == StateConnected }

// Start joins the topic in the background. It is a no-op after the first
// call or after Close. Join failures are logged and leave the channel
// disconnected; there is no retry.
func (c *Channel[K, V]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.cancel != nil || c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.group.Go(func() error {
		c.run(ctx)
		return nil
	})
}

// Publish fans a local mutation out to every connected peer.
// It never blocks: a peer whose queue is full misses the line. A mutation
// that encodes to more than MaxLineBytes is not sent at all.
func (c *Channel[K, V]) Publish(m Mutation[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.peers) == 0 {
		return
	}
	line, err := Encode(m)
	if err != nil {
		c.cfg.Metrics.Dropped(DropEncode)
		c.log.Error().Err(err).Stringer("op", m.Op).Msg("cannot encode mutation")
		return
	}
	if len(line)-1 > c.cfg.MaxLineBytes {
		c.cfg.Metrics.Dropped(DropTooLarge)
		c.log.Warn().Stringer("op", m.Op).Int("bytes", len(line)-1).Int("max_line_bytes", c.cfg.MaxLineBytes).
			Msg("mutation exceeds max line size, not replicated")
		return
	}
	for p := range c.peers {
		select {
		case p.out <- line:
			c.cfg.Metrics.Sent(m.Op)
		default:
			c.cfg.Metrics.Dropped(DropQueueFull)
			c.log.Warn().Str("peer", p.info.Addr).Stringer("op", m.Op).Msg("peer queue full, mutation dropped")
		}
	}
}

// Close leaves the topic, closes every peer stream and waits for the
// channel goroutines to exit. Close is idempotent.
func (c *Channel[K, V]) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	cancel := c.cancel
	leave := c.joined && !c.left
	c.left = true
	peers := make([]*peer, 0, len(c.peers))
	for p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, p := range peers {
		p.close()
	}

	var err error
	if leave {
		err = c.cfg.Overlay.Leave(c.topic)
	}
	_ = c.group.Wait()
	c.notify(StateClosed)
	return err
}

// -------------------- internals --------------------

func (c *Channel[K, V]) run(ctx context.Context) {
	c.transition(StateJoining)

	h, err := c.cfg.Overlay.Join(ctx, c.topic, JoinOptions{Lookup: true, Announce: true})
	if err != nil {
		c.log.Error().Err(err).Msg("join failed, replication disabled")
		c.transition(StateDisconnected)
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = c.cfg.Overlay.Leave(c.topic)
		return
	}
	c.joined = true
	c.mu.Unlock()
	c.log.Info().Msg("joined topic")

	conns := h.Connections()
	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-conns:
			if !ok {
				return
			}
			c.attach(ctx, conn)
		}
	}
}

func (c *Channel[K, V]) attach(ctx context.Context, conn Conn) {
	p := &peer{
		info:   conn.Peer,
		stream: conn.Stream,
		out:    make(chan []byte, c.cfg.QueueSize),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Stream.Close()
		return
	}
	c.peers[p] = struct{}{}
	n := len(c.peers)
	c.mu.Unlock()

	c.cfg.Metrics.Peers(n)
	c.log.Info().Str("peer", p.info.Addr).Bool("initiator", p.info.Initiator).Msg("peer connected")
	c.transition(StateConnected)

	c.group.Go(func() error {
		c.write(ctx, p)
		return nil
	})
	c.group.Go(func() error {
		err := c.read(p)
		c.detach(p, err)
		return nil
	})
}

// write drains the peer queue in order until the peer closes.
func (c *Channel[K, V]) write(ctx context.Context, p *peer) {
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case line := <-p.out:
			if _, err := p.stream.Write(line); err != nil {
				c.log.Warn().Err(err).Str("peer", p.info.Addr).Msg("write to peer failed")
				p.close()
				return
			}
		}
	}
}

// read applies incoming lines until the stream ends. A line longer than
// MaxLineBytes is discarded up to its newline; the stream stays open.
func (c *Channel[K, V]) read(p *peer) error {
	r := bufio.NewReader(p.stream)
	var (
		line []byte
		skip bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !skip {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > c.cfg.MaxLineBytes {
				skip, line = true, line[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		if skip {
			c.cfg.Metrics.Dropped(DropTooLarge)
			c.log.Warn().Str("peer", p.info.Addr).Int("max_line_bytes", c.cfg.MaxLineBytes).Msg("dropping oversized line")
			skip = false
		} else if body := bytes.TrimSpace(line); len(body) > 0 {
			c.apply(p, body)
		}
		line = line[:0]

		if err != nil {
			return nil
		}
	}
}

func (c *Channel[K, V]) apply(p *peer, line []byte) {
	m, err := Decode[K, V](line)
	if err != nil {
		c.cfg.Metrics.Dropped(DropDecode)
		c.log.Warn().Err(err).Str("peer", p.info.Addr).Bytes("line", line).Msg("dropping undecodable line")
		return
	}
	c.cfg.Metrics.Received(m.Op)

	switch m.Op {
	case OpSet:
		c.store.ApplySet(m.Key, m.Value)
	case OpDelete:
		c.store.ApplyDelete(m.Key)
	}
}

// detach drops an ended peer. The first ended stream also leaves the topic:
// replication is scoped to the connections made during one membership.
func (c *Channel[K, V]) detach(p *peer, err error) {
	p.close()

	c.mu.Lock()
	delete(c.peers, p)
	n := len(c.peers)
	closed := c.state == StateClosed
	leave := c.joined && !c.left && !closed
	if leave {
		c.left = true
	}
	c.mu.Unlock()

	if closed {
		return
	}

	c.cfg.Metrics.Peers(n)
	ev := c.log.Info()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("peer", p.info.Addr).Int("peers", n).Msg("peer stream ended")

	if leave {
		if err := c.cfg.Overlay.Leave(c.topic); err != nil {
			c.log.Warn().Err(err).Msg("leave topic failed")
		}
	}
	if n == 0 {
		c.transition(StateDisconnected)
	}
}

func (c *Channel[K, V]) transition(s State) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Channel[K, V]) notify(s State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
