package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/derby"
	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
	"github.com/mcdev12/scoreboard/go/internal/realtime/store"
)

// ResourceView is a rebindable read-only view of one store.
//
// Rebinding to another (resource, args) pair bumps a generation counter so
// that late notifications from the previous store are ignored.
type ResourceView struct {
	client *Client

	// emitMu orders listener calls; each reads the snapshot while holding it
	emitMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	store  *store.Store
	sub    *observer.Subscription
	closed bool

	listeners observer.List[store.Snapshot]
}

// Resource returns a view of the store for resource and args.
func (c *Client) Resource(resource string, args any) (*ResourceView, error) {
	v := &ResourceView{client: c}
	if err := v.Rebind(resource, args); err != nil {
		return nil, err
	}
	return v, nil
}

// Rebind switches the view to another store and notifies listeners with its
// current snapshot. Listeners must not call Rebind.
func (v *ResourceView) Rebind(resource string, args any) error {
	s, err := v.client.stores.Get(resource, args)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClientClosed
	}
	v.gen++
	gen := v.gen
	v.sub.Close()
	v.store = s
	v.sub = s.Subscribe(func() { v.emit(gen) })
	v.mu.Unlock()

	v.emit(gen)
	return nil
}

// emit publishes the bound store's snapshot if gen is still current. The last
// listener call always carries the newest state.
func (v *ResourceView) emit(gen uint64) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	if gen != v.gen || v.closed {
		v.mu.Unlock()
		return
	}
	s := v.store
	v.mu.Unlock()

	v.listeners.Publish(s.Snapshot())
}

// Snapshot returns the bound store's current state.
func (v *ResourceView) Snapshot() store.Snapshot {
	v.mu.Lock()
	s := v.store
	v.mu.Unlock()
	return s.Snapshot()
}

// Decode unmarshals the bound store's data, waiting for the first load.
func (v *ResourceView) Decode(ctx context.Context, out any) error {
	v.mu.Lock()
	s := v.store
	v.mu.Unlock()
	return s.Decode(ctx, out)
}

// Subscribe registers fn for every change of the bound store, including
// rebinds.
func (v *ResourceView) Subscribe(fn func(store.Snapshot)) *observer.Subscription {
	return v.listeners.Subscribe(fn)
}

// Close releases the store subscription.
func (v *ResourceView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.gen++
	v.sub.Close()
	v.sub = nil
}

// ClockView follows one timer field of a bout and interpolates it locally.
type ClockView struct {
	field  string
	view   *ResourceView
	interp *clock.Interpolator
	logger zerolog.Logger

	updateMu sync.Mutex
	lastData json.RawMessage

	mu   sync.Mutex
	kind clock.Kind
	err  error

	sub *observer.Subscription
}

// Clock returns a view of field on the bout identified by boutArgs. field is
// a timer kind or one of the virtual fields "game" and "action"; unknown
// fields fail immediately. opts overrides the client's clock options.
func (c *Client) Clock(boutArgs any, field string, opts ...clock.Options) (*ClockView, error) {
	if err := clock.ValidateField(field); err != nil {
		return nil, err
	}

	view, err := c.Resource(derby.ResourceBout, boutArgs)
	if err != nil {
		return nil, err
	}

	clockOpts := c.opts.clockOptions
	if len(opts) > 0 {
		clockOpts = opts[0]
	}

	cv := &ClockView{
		field:  field,
		view:   view,
		interp: clock.New(c.opts.clock, c.latency, clockOpts).WithLogger(c.opts.logger),
		logger: c.logger.With().Str("field", field).Logger(),
	}
	cv.sub = view.Subscribe(cv.update)
	cv.update(view.Snapshot())
	return cv, nil
}

func (cv *ClockView) update(snap store.Snapshot) {
	if !snap.HasData {
		return
	}

	// serializes descriptor adoption; mu only guards the fields
	cv.updateMu.Lock()
	defer cv.updateMu.Unlock()
	if bytes.Equal(snap.Data, cv.lastData) {
		return
	}
	cv.lastData = snap.Data

	kind, desc, err := cv.resolve(snap.Data)
	cv.mu.Lock()
	cv.err = err
	if err == nil {
		cv.kind = kind
	}
	cv.mu.Unlock()

	if err != nil {
		cv.logger.Error().Err(err).Msg("cannot resolve bout timer")
		return
	}
	cv.interp.Set(desc)
}

func (cv *ClockView) resolve(data json.RawMessage) (clock.Kind, clock.Descriptor, error) {
	bout, err := derby.DecodeBout(data)
	if err != nil {
		return "", clock.Descriptor{}, err
	}
	return bout.Clock(cv.field)
}

// Reading returns the interpolated clock value.
func (cv *ClockView) Reading() clock.Reading {
	return cv.interp.Reading()
}

// Subscribe registers fn for every reading, at the tick cadence while the
// clock runs.
func (cv *ClockView) Subscribe(fn func(clock.Reading)) *observer.Subscription {
	return cv.interp.Subscribe(fn)
}

// Kind returns the timer kind the field currently resolves to.
func (cv *ClockView) Kind() clock.Kind {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.kind
}

// Err returns the error from the latest bout data, if any.
func (cv *ClockView) Err() error {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.err
}

// Close stops the tick loop and releases the bout subscription.
func (cv *ClockView) Close() {
	cv.sub.Close()
	cv.view.Close()
	cv.interp.Close()
}
