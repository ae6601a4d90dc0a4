package replication

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op is the kind of a replicated mutation.
type Op uint8

const (
	// OpUnknown is any message type this version does not understand.
	// It decodes successfully and is applied as a no-op.
	OpUnknown Op = iota
	// OpSet carries a key and a value.
	OpSet
	// OpDelete carries a key.
	OpDelete
)

// wire names of the message types.
const (
	typeSet    = "set"
	typeDelete = "delete"
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return typeSet
	case OpDelete:
		return typeDelete
	default:
		return "unknown"
	}
}

var (
	// ErrMalformed wraps every decoding failure of an incoming line.
	ErrMalformed = errors.New("replication: malformed message")
	// ErrUnsupportedOp is returned when encoding an OpUnknown mutation.
	ErrUnsupportedOp = errors.New("replication: unsupported op")
)

// Mutation is one replicated cache change.
// Value is meaningful only for OpSet.
type Mutation[K comparable, V any] struct {
	Op    Op
	Key   K
	Value V
}

// frame is the JSON shape of a line on the peer stream:
//
//	{"t":"set","key":<json>,"value":<json>}
//	{"t":"delete","key":<json>}
type frame struct {
	T     string          `json:"t"`
	Key   json.RawMessage `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Encode renders m as a newline-terminated JSON line.
func Encode[K comparable, V any](m Mutation[K, V]) ([]byte, error) {
	var f frame
	switch m.Op {
	case OpSet:
		f.T = typeSet
	case OpDelete:
		f.T = typeDelete
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedOp, m.Op)
	}

	key, err := json.Marshal(m.Key)
	if err != nil {
		return nil, fmt.Errorf("replication: encode key: %w", err)
	}
	f.Key = key

	if m.Op == OpSet {
		val, err := json.Marshal(m.Value)
		if err != nil {
			return nil, fmt.Errorf("replication: encode value: %w", err)
		}
		f.Value = val
	}

	line, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("replication: encode frame: %w", err)
	}
	return append(line, '\n'), nil
}

// Decode parses one line (without the trailing newline) into a Mutation.
// Unknown message types decode to OpUnknown with a nil error.
func Decode[K comparable, V any](line []byte) (Mutation[K, V], error) {
	var (
		m Mutation[K, V]
		f frame
	)
	if err := json.Unmarshal(line, &f); err != nil {
		return m, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch f.T {
	case typeSet:
		m.Op = OpSet
	case typeDelete:
		m.Op = OpDelete
	default:
		return Mutation[K, V]{Op: OpUnknown}, nil
	}

	if len(f.Key) == 0 {
		return Mutation[K, V]{}, fmt.Errorf("%w: %s without key", ErrMalformed, f.T)
	}
	if err := json.Unmarshal(f.Key, &m.Key); err != nil {
		return Mutation[K, V]{}, fmt.Errorf("%w: key: %w", ErrMalformed, err)
	}
	if m.Op == OpSet && len(f.Value) > 0 {
		if err := json.Unmarshal(f.Value, &m.Value); err != nil {
			return Mutation[K, V]{}, fmt.Errorf("%w: value: %w", ErrMalformed, err)
		}
	}
	return m, nil
}
