package replication

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinTopicLen is the shortest accepted replication topic.
const MinTopicLen = 8

// ErrInvalidTopic is returned for topics shorter than MinTopicLen.
var ErrInvalidTopic = errors.New("replication: invalid topic")

// Topic is the rendezvous identifier peers join: the SHA-256 of the
// configured topic string.
type Topic [sha256.Size]byte

// HashTopic validates name and derives its rendezvous identifier.
func HashTopic(name string) (Topic, error) {
	if len(name) < MinTopicLen {
		return Topic{}, fmt.Errorf("%w: %d characters, need at least %d", ErrInvalidTopic, len(name), MinTopicLen)
	}
	return Topic(sha256.Sum256([]byte(name))), nil
}

// String returns the hex encoding of the topic.
func (t Topic) String() string { return hex.EncodeToString(t[:]) }

// short is used as a log field.
func (t Topic) short() string { return t.String()[:12] }
