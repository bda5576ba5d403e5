package bus

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/danmuck/guidectl/internal/wire"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultSubjectPrefix = "guider"

// NATSConfig configures the NATS adapter.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
	Backoff       BackoffConfig
}

// NATS carries property messages over core NATS. Each message is published
// on "<prefix>.<kind>.<target>" encoded as one wire frame.
type NATS struct {
	nc     *nats.Conn
	prefix string
	seq    atomic.Uint64

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

// ConnectNATS dials the server, retrying with backoff until ctx ends or the
// attempt budget is spent.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATS, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		nc, err := nats.Connect(cfg.URL, opts...)
		if err == nil {
			log.Info().Str("url", cfg.URL).Str("prefix", prefix).Msg("bus.ConnectNATS connected")
			return &NATS{nc: nc, prefix: prefix, subs: make(map[*nats.Subscription]struct{})}, nil
		}
		if cfg.Backoff.MaxAttempts > 0 && attempt >= cfg.Backoff.MaxAttempts {
			return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("bus.ConnectNATS retry")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, ctx.Err())
		case <-timer.C:
		}
	}
}

func (b *NATS) subject(msg property.Message) string {
	target := strings.ReplaceAll(msg.Target(), ".", "_")
	target = strings.ReplaceAll(target, " ", "_")
	if target == "" {
		target = "_"
	}
	return b.prefix + "." + msg.Kind().String() + "." + target
}

func (b *NATS) Publish(ctx context.Context, msg property.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.nc.IsClosed() {
		return ErrClosed
	}
	data, err := wire.Marshal(b.seq.Add(1), msg)
	if err != nil {
		return err
	}
	subject := b.subject(msg)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (b *NATS) Subscribe(h Handler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}
	sub, err := b.nc.Subscribe(b.prefix+".>", func(m *nats.Msg) {
		msg, _, err := wire.Unmarshal(m.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("bus.NATS.Subscribe decode failed")
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil && !b.nc.IsClosed() {
				log.Debug().Err(err).Msg("bus.NATS.Subscribe unsubscribe")
			}
		})
	}, nil
}

// Flush round-trips the server so prior publishes have been processed.
func (b *NATS) Flush(ctx context.Context) error {
	return b.nc.FlushWithContext(ctx)
}

func (b *NATS) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
