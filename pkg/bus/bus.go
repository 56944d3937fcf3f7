// Package bus carries new-message signals from ingress adapters to the
// gateway service over a bounded channel.
package bus

import (
	"context"
	"sync"

	"chime/pkg/notify"
)

const defaultBufferSize = 100

// Signal is one candidate notification produced by an ingress adapter.
type Signal struct {
	Source    string        `json:"source"`
	MessageID string        `json:"message_id"`
	Origin    notify.Origin `json:"-"`
}

type SignalBus struct {
	signals chan Signal

	done      chan struct{}
	closeOnce sync.Once
}

func NewSignalBus() *SignalBus {
	return &SignalBus{
		signals: make(chan Signal, defaultBufferSize),
		done:    make(chan struct{}),
	}
}

func (sb *SignalBus) Publish(ctx context.Context, sig Signal) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-sb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-sb.done:
		return false
	case sb.signals <- sig:
		return true
	}
}

func (sb *SignalBus) Consume(ctx context.Context) (Signal, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return Signal{}, false
	case <-sb.done:
		return Signal{}, false
	case sig := <-sb.signals:
		return sig, true
	}
}

func (sb *SignalBus) Close() {
	sb.closeOnce.Do(func() {
		close(sb.done)
	})
}
