package fanout

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscription backlog.
const DefaultCapacity = 100

// Broadcaster delivers every published value to all attached subscriptions.
//
// Each subscription owns a bounded buffer. A subscription whose buffer is full
// when a value is published is disconnected: it is detached and its channel is
// closed behind the values it already holds. Publishes are serialized, so
// every subscription observes one total order.
type Broadcaster struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	capacity   int
	onOverflow func()

	published atomic.Uint64
	dropped   atomic.Uint64
}

type Option func(*Broadcaster)

// WithCapacity overrides the per-subscription buffer size.
func WithCapacity(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// OnOverflow registers a hook run once per disconnected subscription.
func OnOverflow(fn func()) Option {
	return func(b *Broadcaster) {
		b.onOverflow = fn
	}
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:     make(map[*Subscription]struct{}),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches a new subscription that observes values published after
// this call returns.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{
		ch:    make(chan int64, b.capacity),
		done:  make(chan struct{}),
		owner: b,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish fans v out to every attached subscription. With no subscriptions it
// is a no-op.
func (b *Broadcaster) Publish(v int64) {
	var overflowed int
	b.mu.Lock()
	for s := range b.subs {
		select {
		case s.ch <- v:
		default:
			s.dropped.Store(true)
			b.detachLocked(s)
			overflowed++
		}
	}
	b.mu.Unlock()

	b.published.Add(1)
	if overflowed > 0 {
		b.dropped.Add(uint64(overflowed))
		if b.onOverflow != nil {
			for i := 0; i < overflowed; i++ {
				b.onOverflow()
			}
		}
	}
}

// Len returns the number of attached subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Published returns how many values have been published.
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}

// Disconnected returns how many subscriptions were dropped for overflow.
func (b *Broadcaster) Disconnected() uint64 {
	return b.dropped.Load()
}

// Close detaches every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for s := range b.subs {
		b.detachLocked(s)
	}
	b.mu.Unlock()
}

// detachLocked must be called with b.mu held. The channel is closed exactly
// once because removal from the map happens exactly once.
func (b *Broadcaster) detachLocked(s *Subscription) {
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
	s.closeDone()
}

// Subscription is a receive-only handle into a Broadcaster.
type Subscription struct {
	ch       chan int64
	done     chan struct{}
	doneOnce sync.Once
	owner    *Broadcaster
	dropped  atomic.Bool
}

// C yields published values. It is closed when the subscription ends, after
// any values still buffered.
func (s *Subscription) C() <-chan int64 {
	return s.ch
}

// Done is closed as soon as the subscription is detached.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports whether the subscription was disconnected for falling behind.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close detaches the subscription. It is safe to call more than once and
// after an overflow disconnect.
func (s *Subscription) Close() {
	s.owner.mu.Lock()
	s.owner.detachLocked(s)
	s.owner.mu.Unlock()
}

func (s *Subscription) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
