// Package router implements the wire router described in spec.md §3/§4.C:
// a validated table of (src, dst, gain, offset) applied each major
// frame before modules step.
package router

import (
	"go.uber.org/zap"

	"github.com/tanged123/hermes/internal/backplane"
	"github.com/tanged123/hermes/internal/xerror"
)

// Wire is an immutable directed, affine-transformed signal transfer:
// dst <- src*gain + offset.
type Wire struct {
	Src    string
	Dst    string
	Gain   float64
	Offset float64
}

// Router holds the validated wire table for a backplane and applies it
// once per major frame, in insertion order. Duplicate destinations are
// permitted; the last wire targeting a given destination wins.
type Router struct {
	log   *zap.SugaredLogger
	bp    *backplane.Segment
	wires []Wire
}

// Option configures a Router constructor.
type Option func(*Router)

// WithLog sets the logger used by the router.
func WithLog(log *zap.SugaredLogger) Option {
	return func(r *Router) { r.log = log }
}

// New creates a Router over bp, validating every wire's endpoints
// against the backplane's signal directory. Validation happens once,
// at construction; the returned error is a ConfigError naming the
// first unresolved endpoint.
func New(bp *backplane.Segment, wires []Wire, options ...Option) (*Router, error) {
	r := &Router{
		log: zap.NewNop().Sugar(),
		bp:  bp,
	}
	for _, o := range options {
		o(r)
	}

	known := make(map[string]struct{})
	for _, name := range bp.SignalNames() {
		known[name] = struct{}{}
	}

	for _, w := range wires {
		if _, ok := known[w.Src]; !ok {
			return nil, xerror.NewConfigError("wire source signal not found: %s", w.Src)
		}
		if _, ok := known[w.Dst]; !ok {
			return nil, xerror.NewConfigError("wire destination signal not found: %s", w.Dst)
		}
	}

	r.wires = append([]Wire(nil), wires...)

	r.log.Infow("validated wiring", zap.Int("wires", len(r.wires)))
	return r, nil
}

// WireCount returns the number of configured wires.
func (r *Router) WireCount() int { return len(r.wires) }

// Route executes all wire transfers in insertion order: for each wire,
// reads src then writes dst. Because this runs before modules step,
// modules observe already-routed inputs for the current frame.
func (r *Router) Route() error {
	for _, w := range r.wires {
		v, err := r.bp.GetSignal(w.Src)
		if err != nil {
			return err
		}
		if err := r.bp.SetSignal(w.Dst, v*w.Gain+w.Offset); err != nil {
			return err
		}
	}
	return nil
}
