package bus

import (
	"context"
	"sync"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/rs/zerolog/log"
)

// Memory is an in-process bus. One dispatch goroutine delivers every message
// to every subscriber in publish order. Publish never blocks, so handlers may
// publish from the dispatch goroutine.
type Memory struct {
	mu        sync.Mutex
	queue     []property.Message
	subs      map[uint64]Handler
	nextSub   uint64
	published uint64
	delivered uint64
	closed    bool

	wake chan struct{}
	// progress is closed and replaced after every delivery.
	progress chan struct{}
	done     chan struct{}
}

func NewMemory() *Memory {
	b := &Memory{
		subs:     make(map[uint64]Handler),
		wake:     make(chan struct{}, 1),
		progress: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Memory) Publish(ctx context.Context, msg property.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, msg)
	b.published++
	select {
	case b.wake <- struct{}{}:
	default:
	}
	b.mu.Unlock()
	return nil
}

func (b *Memory) Subscribe(h Handler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextSub++
	id := b.nextSub
	b.subs[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

// Flush waits until every message published before the call was delivered.
func (b *Memory) Flush(ctx context.Context) error {
	b.mu.Lock()
	target := b.published
	b.mu.Unlock()
	for {
		b.mu.Lock()
		delivered := b.delivered
		progress := b.progress
		closed := b.closed
		b.mu.Unlock()
		if delivered >= target {
			return nil
		}
		if closed {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-progress:
		}
	}
}

func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.wake)
	b.mu.Unlock()
	<-b.done
	return nil
}

func (b *Memory) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			if b.closed {
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			if _, ok := <-b.wake; !ok {
				b.drainOnClose()
				return
			}
			continue
		}
		msg := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		handlers := make([]Handler, 0, len(b.subs))
		for _, h := range b.subs {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()

		for _, h := range handlers {
			b.deliver(h, msg)
		}

		b.mu.Lock()
		b.delivered++
		close(b.progress)
		b.progress = make(chan struct{})
		b.mu.Unlock()
	}
}

// drainOnClose discards queued messages so pending Flush calls return.
func (b *Memory) drainOnClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered += uint64(len(b.queue))
	b.queue = nil
	close(b.progress)
	b.progress = make(chan struct{})
}

func (b *Memory) deliver(h Handler, msg property.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("kind", msg.Kind().String()).
				Msg("bus.Memory.deliver handler panic")
		}
	}()
	h(msg)
}
