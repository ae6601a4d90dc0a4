package replication

// Reasons passed to Metrics.Dropped.
const (
	DropDecode    = "decode"
	DropEncode    = "encode"
	DropQueueFull = "queue_full"
	DropTooLarge  = "too_large"
)

// Metrics exposes replication observability hooks.
type Metrics interface {
	// Sent counts a mutation line queued for one peer.
	Sent(op Op)
	// Received counts a decoded line applied (or ignored, for OpUnknown).
	Received(op Op)
	// Dropped counts a line discarded for the given reason.
	Dropped(reason string)
	// Peers reports the number of connected peers.
	Peers(n int)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) Sent(Op)        {}
func (NoopMetrics) Received(Op)    {}
func (NoopMetrics) Dropped(string) {}
func (NoopMetrics) Peers(int)      {}

var _ Metrics = NoopMetrics{}
