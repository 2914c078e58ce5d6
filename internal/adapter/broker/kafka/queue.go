package kafka

import kafkago "github.com/segmentio/kafka-go"

// pendingQueue is a fixed-capacity FIFO of messages awaiting flush. Pushing
// onto a full queue evicts the oldest entry. Callers synchronize access.
type pendingQueue struct {
	buf   []kafkago.Message
	head  int
	count int
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &pendingQueue{buf: make([]kafkago.Message, capacity)}
}

func (q *pendingQueue) len() int { return q.count }

// push appends msg. When the queue is full the oldest message is evicted and
// returned with dropped=true.
func (q *pendingQueue) push(msg kafkago.Message) (evicted kafkago.Message, dropped bool) {
	if q.count == len(q.buf) {
		evicted = q.buf[q.head]
		q.buf[q.head] = msg
		q.head = (q.head + 1) % len(q.buf)
		return evicted, true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = msg
	q.count++
	return kafkago.Message{}, false
}

// peek returns up to max oldest messages without removing them.
func (q *pendingQueue) peek(max int) []kafkago.Message {
	n := q.count
	if n > max {
		n = max
	}
	out := make([]kafkago.Message, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}

// drop removes the n oldest messages.
func (q *pendingQueue) drop(n int) {
	if n > q.count {
		n = q.count
	}
	for i := 0; i < n; i++ {
		q.buf[q.head] = kafkago.Message{}
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
}
