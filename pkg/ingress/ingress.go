package ingress

import (
	"context"

	"chime/pkg/bus"
)

// Handler accepts one new-message signal produced by an adapter.
type Handler func(context.Context, bus.Signal) error

// Adapter bridges one external signal source (for example the push
// transport or the realtime event stream) into Chime.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
