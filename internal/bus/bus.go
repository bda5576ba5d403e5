// Package bus is the property transport port used by the guider agent and
// by simulated devices.
//
// Adapters deliver inbound messages serially per subscription. Handlers run
// on the adapter's dispatch goroutine and must not block.
package bus

import (
	"context"
	"errors"

	"github.com/danmuck/guidectl/internal/property"
)

var (
	ErrClosed      = errors.New("bus: closed")
	ErrNilHandler  = errors.New("bus: nil handler")
	ErrNilMessage  = errors.New("bus: nil message")
	ErrURLRequired = errors.New("bus: url required")
)

// Handler receives one message.
type Handler func(msg property.Message)

// Bus publishes and observes property messages.
type Bus interface {
	Publish(ctx context.Context, msg property.Message) error
	// Subscribe registers h for every message. The returned function
	// cancels the subscription.
	Subscribe(h Handler) (cancel func(), err error)
	Close() error
}
