package kafka

import (
	"github.com/cespare/xxhash/v2"
	kafkago "github.com/segmentio/kafka-go"
)

// SymbolBalancer routes messages by a stable hash of the key, so every event
// for a given symbol lands on the same partition and per-symbol publish order
// is preserved end to end.
type SymbolBalancer struct{}

var _ kafkago.Balancer = SymbolBalancer{}

func (SymbolBalancer) Balance(msg kafkago.Message, partitions ...int) int {
	if len(partitions) == 0 {
		return 0
	}
	if len(msg.Key) == 0 {
		return partitions[0]
	}
	idx := xxhash.Sum64(msg.Key) % uint64(len(partitions))
	return partitions[idx]
}
