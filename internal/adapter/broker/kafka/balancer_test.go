package kafka

import (
	"fmt"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
)

func TestSymbolBalancerStablePerKey(t *testing.T) {
	b := SymbolBalancer{}
	partitions := []int{0, 1, 2, 3, 4, 5}

	msg := kafkago.Message{Key: []byte("AAPL")}
	first := b.Balance(msg, partitions...)
	for i := 0; i < 100; i++ {
		if got := b.Balance(msg, partitions...); got != first {
			t.Fatalf("partition changed between calls: %d then %d", first, got)
		}
	}
}

func TestSymbolBalancerSpreadsKeys(t *testing.T) {
	b := SymbolBalancer{}
	partitions := []int{0, 1, 2, 3}

	used := make(map[int]bool)
	for i := 0; i < 64; i++ {
		key := []byte(fmt.Sprintf("SYM%03d", i))
		used[b.Balance(kafkago.Message{Key: key}, partitions...)] = true
	}
	if len(used) < 2 {
		t.Fatalf("64 distinct keys landed on %d partition(s)", len(used))
	}
}

func TestSymbolBalancerEmptyKey(t *testing.T) {
	b := SymbolBalancer{}
	if got := b.Balance(kafkago.Message{}, 7, 8, 9); got != 7 {
		t.Fatalf("empty key landed on %d, want first partition", got)
	}
}

func TestSymbolBalancerNoPartitions(t *testing.T) {
	b := SymbolBalancer{}
	if got := b.Balance(kafkago.Message{Key: []byte("AAPL")}); got != 0 {
		t.Fatalf("no partitions returned %d, want 0", got)
	}
}
