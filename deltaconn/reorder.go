package deltaconn

// AsyncDecoder starts decoding frame and calls done exactly once when the
// result is ready. done must be invoked on the goroutine that owns the
// ReorderBuffer; completion order across frames is unspecified.
type AsyncDecoder[T any] func(frame []byte, done func(T, error))

// Delivery is one resequenced frame. Err is set instead of Value when the
// frame failed to decode, so later frames are not held back by it.
type Delivery[T any] struct {
	Seq   uint64
	Value T
	Err   error
}

// ReorderBuffer hands decoded frames to a single consumer in the order their
// raw frames were submitted, whatever order the decodes finish in.
// It is not safe for concurrent use.
type ReorderBuffer[T any] struct {
	decode  AsyncDecoder[T]
	deliver func(Delivery[T])

	next        uint64 // sequence number for the next submitted frame
	nextDeliver uint64 // lastDelivered + 1
	pending     map[uint64]Delivery[T]
}

// NewReorderBuffer creates a buffer that decodes with decode and hands
// results to deliver.
func NewReorderBuffer[T any](decode AsyncDecoder[T], deliver func(Delivery[T])) *ReorderBuffer[T] {
	return &ReorderBuffer[T]{
		decode:  decode,
		deliver: deliver,
		pending: make(map[uint64]Delivery[T]),
	}
}

// Submit assigns frame the next sequence number and starts decoding it.
func (b *ReorderBuffer[T]) Submit(frame []byte) uint64 {
	seq := b.next
	b.next++
	completed := false
	b.decode(frame, func(v T, err error) {
		if completed {
			return
		}
		completed = true
		b.complete(Delivery[T]{Seq: seq, Value: v, Err: err})
	})
	return seq
}

// Pending returns the number of decoded frames waiting on an earlier one.
func (b *ReorderBuffer[T]) Pending() int { return len(b.pending) }

// Delivered returns the number of frames handed to the consumer.
func (b *ReorderBuffer[T]) Delivered() uint64 { return b.nextDeliver }

// Submitted returns the number of frames submitted so far.
func (b *ReorderBuffer[T]) Submitted() uint64 { return b.next }

func (b *ReorderBuffer[T]) complete(d Delivery[T]) {
	if d.Seq < b.nextDeliver {
		return
	}
	if _, dup := b.pending[d.Seq]; dup {
		return
	}
	b.pending[d.Seq] = d
	b.drain()
}

func (b *ReorderBuffer[T]) drain() {
	for {
		d, ok := b.pending[b.nextDeliver]
		if !ok {
			return
		}
		delete(b.pending, b.nextDeliver)
		b.nextDeliver++
		b.deliver(d)
	}
}
