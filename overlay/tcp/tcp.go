// Package tcp is a replication overlay over plain TCP with static seed peers.
//
// Announcing a topic listens on Config.ListenAddr; looking it up dials every
// seed in Config.Peers. Every new connection starts with a handshake where
// both sides send the 32-byte topic and check the peer's, so only nodes on
// the same topic are connected.
//
// The handshake also carries the sender's listen address. When two nodes list
// each other as seeds, only the connection dialed by the node with the lower
// listen address is kept, so a pair never replicates over two streams. This
// relies on seed entries naming the listen address the peer reports
// (host:port as bound); otherwise both connections survive.
package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/IvanBrykalov/genlru/replication"
)

// Defaults applied by New.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultDialAttempts = 5
	DefaultRetryDelay   = 200 * time.Millisecond
)

var (
	// ErrAlreadyJoined is returned by Join for a topic joined before.
	ErrAlreadyJoined = errors.New("tcp: topic already joined")
	// ErrHandshake is returned when the peer sent a different topic.
	ErrHandshake = errors.New("tcp: topic handshake mismatch")
	// ErrDuplicate is returned when the pair is already connected the other way.
	ErrDuplicate = errors.New("tcp: duplicate connection")
)

const (
	maxAddrLen = 255

	verdictDuplicate byte = 0
	verdictKeep      byte = 1
)

// Config configures the overlay.
type Config struct {
	// ListenAddr is used when announcing. Empty => "127.0.0.1:0".
	ListenAddr string
	// Peers are the seed addresses dialed on lookup.
	Peers []string
	// DialTimeout bounds one dial plus handshake. Zero => DefaultDialTimeout.
	DialTimeout time.Duration
	// DialAttempts per seed. Zero => DefaultDialAttempts.
	DialAttempts uint
	// RetryDelay is the first backoff delay between attempts.
	// Zero => DefaultRetryDelay.
	RetryDelay time.Duration
	// Logger. Nil => a timestamped logger on stderr.
	Logger *zerolog.Logger
}

// Overlay implements replication.Overlay over TCP.
type Overlay struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[replication.Topic]*session
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ replication.Overlay = (*Overlay)(nil)

// New returns an overlay with defaults applied. It does not touch the network
// until Join.
func New(cfg Config) *Overlay {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		cfg.Logger = &l
	}
	return &Overlay{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "overlay-tcp").Logger(),
		sessions: make(map[replication.Topic]*session),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// session is one joined topic.
type session struct {
	topic  replication.Topic
	ctx    context.Context
	cancel context.CancelFunc
	ln     net.Listener // nil unless announcing
	conns  chan replication.Conn
	wg     sync.WaitGroup

	mu      sync.Mutex
	dialing map[string]bool // seeds with an outbound dial in flight or connected
}

func (s *session) Connections() <-chan replication.Conn { return s.conns }

// listenAddr is the address sent in the handshake, "" when not announcing.
func (s *session) listenAddr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *session) forget(seed string) {
	s.mu.Lock()
	delete(s.dialing, seed)
	s.mu.Unlock()
}

// duplicate reports whether an inbound connection from a peer listening on
// peer should give way to our own dial to it.
func (s *session) duplicate(peer string) bool {
	self := s.listenAddr()
	if self == "" || peer == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialing[peer] && self < peer
}

// deliver hands conn to the consumer unless the session is leaving.
func (s *session) deliver(conn replication.Conn) {
	select {
	case s.conns <- conn:
	case <-s.ctx.Done():
		_ = conn.Stream.Close()
	}
}

// Join starts listening (Announce) and dialing seeds (Lookup) for topic.
// A listen failure is returned; dial failures are logged per seed.
func (o *Overlay) Join(ctx context.Context, topic replication.Topic, opts replication.JoinOptions) (replication.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.sessions[topic]; ok {
		return nil, ErrAlreadyJoined
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		topic:   topic,
		ctx:     sctx,
		cancel:  cancel,
		conns:   make(chan replication.Conn, len(o.cfg.Peers)+1),
		dialing: make(map[string]bool),
	}

	if opts.Announce {
		ln, err := net.Listen("tcp", o.cfg.ListenAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("tcp: listen %s: %w", o.cfg.ListenAddr, err)
		}
		s.ln = ln
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			o.acceptLoop(s)
		}()
		o.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	}

	if opts.Lookup {
		for _, seed := range o.cfg.Peers {
			if seed == s.listenAddr() {
				continue
			}
			s.mu.Lock()
			s.dialing[seed] = true
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				o.connect(s, seed)
			}()
		}
	}

	o.sessions[topic] = s
	return s, nil
}

// Leave stops listening and dialing for topic and closes its connection
// channel. Established connections stay open.
func (o *Overlay) Leave(topic replication.Topic) error {
	o.mu.Lock()
	s, ok := o.sessions[topic]
	delete(o.sessions, topic)
	o.mu.Unlock()
	if !ok {
		return nil
	}

	s.cancel()
	var err error
	if s.ln != nil {
		if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	s.wg.Wait()
	close(s.conns)
	return err
}

// Close leaves every joined topic.
func (o *Overlay) Close() error {
	o.mu.Lock()
	topics := make([]replication.Topic, 0, len(o.sessions))
	for t := range o.sessions {
		topics = append(topics, t)
	}
	o.mu.Unlock()

	var errs []error
	for _, t := range topics {
		if err := o.Leave(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listener address for topic, or nil when the topic is not
// announced.
func (o *Overlay) Addr(topic replication.Topic) net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[topic]
	if !ok || s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// -------------------- internals --------------------

func (o *Overlay) acceptLoop(s *session) {
	delay := 5 * time.Millisecond
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			o.log.Warn().Err(err).Dur("backoff", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			delay = min(2*delay, time.Second)
			continue
		}
		delay = 5 * time.Millisecond

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			o.admit(s, c, "")
		}()
	}
}

// connect dials seed with retries and hands the connection to the session.
func (o *Overlay) connect(s *session, seed string) {
	c, err := o.dial(s.ctx, seed)
	if err != nil {
		s.forget(seed)
		if s.ctx.Err() == nil {
			o.log.Warn().Err(err).Str("peer", seed).Msg("seed unreachable")
		}
		return
	}
	o.admit(s, c, seed)
}

// dial connects to addr through the per-address circuit breaker, retrying
// with exponential backoff. An open breaker stops the retries.
func (o *Overlay) dial(ctx context.Context, addr string) (net.Conn, error) {
	cb := o.breaker(addr)
	d := net.Dialer{Timeout: o.cfg.DialTimeout}

	return retry.DoWithData(
		func() (net.Conn, error) {
			res, err := cb.Execute(func() (interface{}, error) {
				return d.DialContext(ctx, "tcp", addr)
			})
			if err != nil {
				return nil, err
			}
			return res.(net.Conn), nil
		},
		retry.Attempts(o.cfg.DialAttempts),
		retry.Delay(o.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
		}),
		retry.OnRetry(func(n uint, err error) {
			o.log.Debug().Err(err).Str("peer", addr).Uint("attempt", n+1).Msg("retrying dial")
		}),
	)
}

func (o *Overlay) breaker(addr string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dial " + addr,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.log.Info().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
		},
	})
	o.breakers[addr] = cb
	return cb
}

// admit runs the handshake and delivers the connection. seed is the dialed
// address for outbound connections and "" for accepted ones.
func (o *Overlay) admit(s *session, c net.Conn, seed string) {
	initiator := seed != ""
	addr := c.RemoteAddr().String()

	_ = c.SetDeadline(time.Now().Add(o.cfg.DialTimeout))
	err := o.negotiate(s, c, initiator)
	_ = c.SetDeadline(time.Time{})
	if err != nil {
		if initiator {
			s.forget(seed)
		}
		_ = c.Close()
		if errors.Is(err, ErrDuplicate) {
			o.log.Debug().Str("peer", addr).Bool("initiator", initiator).Msg("duplicate connection closed")
			return
		}
		o.log.Warn().Err(err).Str("peer", addr).Msg("handshake failed")
		return
	}

	s.deliver(replication.Conn{
		Stream: c,
		Peer:   replication.PeerInfo{Addr: addr, Initiator: initiator},
	})
}

// negotiate exchanges hellos, then the accepting side sends one verdict byte
// telling the dialer whether the connection is kept.
func (o *Overlay) negotiate(s *session, c net.Conn, initiator bool) error {
	peer, err := handshake(c, s.topic, s.listenAddr())
	if err != nil {
		return err
	}

	var verdict [1]byte
	if initiator {
		if _, err := io.ReadFull(c, verdict[:]); err != nil {
			return fmt.Errorf("tcp: read verdict: %w", err)
		}
		if verdict[0] != verdictKeep {
			return ErrDuplicate
		}
		return nil
	}

	dup := s.duplicate(peer)
	verdict[0] = verdictKeep
	if dup {
		verdict[0] = verdictDuplicate
	}
	if _, err := c.Write(verdict[:]); err != nil {
		return fmt.Errorf("tcp: write verdict: %w", err)
	}
	if dup {
		return ErrDuplicate
	}
	return nil
}

// handshake sends the local hello (32-byte topic, one length byte, listen
// address) and reads the peer's. It returns the peer's listen address, ""
// when the peer does not announce. Both sides write before reading.
func handshake(rw io.ReadWriter, topic replication.Topic, self string) (string, error) {
	if len(self) > maxAddrLen {
		self = ""
	}
	hello := make([]byte, 0, len(topic)+1+len(self))
	hello = append(hello, topic[:]...)
	hello = append(hello, byte(len(self)))
	hello = append(hello, self...)

	werr := make(chan error, 1)
	go func() {
		_, err := rw.Write(hello)
		werr <- err
	}()

	var (
		got replication.Topic
		n   [1]byte
	)
	if _, err := io.ReadFull(rw, got[:]); err != nil {
		return "", fmt.Errorf("tcp: read handshake: %w", err)
	}
	if _, err := io.ReadFull(rw, n[:]); err != nil {
		return "", fmt.Errorf("tcp: read handshake: %w", err)
	}
	peer := make([]byte, n[0])
	if _, err := io.ReadFull(rw, peer); err != nil {
		return "", fmt.Errorf("tcp: read handshake: %w", err)
	}
	if err := <-werr; err != nil {
		return "", fmt.Errorf("tcp: write handshake: %w", err)
	}
	if !bytes.Equal(got[:], topic[:]) {
		return "", ErrHandshake
	}
	return string(peer), nil
}
