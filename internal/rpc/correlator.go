// Package rpc matches responses to previously issued requests by id and
// routes id-less envelopes to the active notification sink.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	rpcprobe "github.com/rpcprobe/rpcprobe"
)

// DefaultTimeout bounds how long a request may stay outstanding.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is the failure delivered to a completion handle whose request
// received no response within the correlator's timeout.
var ErrTimeout = errors.New("rpc: request timed out")

type outcome struct {
	env *rpcprobe.Envelope
	err error
}

// Call is the single-assignment completion handle for one outstanding
// request. It is fulfilled exactly once: by a matching response, by
// CancelAll, or by timeout expiry, whichever comes first.
type Call struct {
	done chan outcome
	once sync.Once
}

func (c *Call) fulfill(env *rpcprobe.Envelope, err error) {
	c.once.Do(func() {
		c.done <- outcome{env: env, err: err}
	})
}

// Wait blocks until the call completes or ctx is cancelled.
func (c *Call) Wait(ctx context.Context) (*rpcprobe.Envelope, error) {
	select {
	case out := <-c.done:
		return out.env, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Correlator owns the pending-request table. Request ids are unique among
// outstanding requests for the life of the process; a monotonic counter
// satisfies that.
type Correlator struct {
	nextID  atomic.Uint64
	pending *ttlcache.Cache[uint64, *Call]

	mu   sync.Mutex
	sink func(*rpcprobe.Envelope)
}

// New creates a correlator whose outstanding requests expire after timeout.
// A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pending := ttlcache.New[uint64, *Call](
		ttlcache.WithTTL[uint64, *Call](timeout),
		ttlcache.WithDisableTouchOnHit[uint64, *Call](),
	)
	pending.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint64, *Call]) {
		// Deletions are the normal resolve/cancel path; only expiry is a
		// timeout.
		if reason == ttlcache.EvictionReasonExpired {
			slog.Debug("request timed out", "id", item.Key())
			item.Value().fulfill(nil, ErrTimeout)
		}
	})
	go pending.Start()
	return &Correlator{pending: pending}
}

// Close stops the expiry loop and fails anything still pending.
func (c *Correlator) Close(err error) {
	c.CancelAll(err)
	c.pending.Stop()
}

// NewRequest builds a request envelope with a fresh id and registers its
// completion handle.
func (c *Correlator) NewRequest(method string, params map[string]any) (*rpcprobe.Envelope, *Call) {
	id := c.nextID.Add(1)
	call := &Call{done: make(chan outcome, 1)}
	c.pending.Set(id, call, ttlcache.DefaultTTL)
	return rpcprobe.NewRequest(id, method, params), call
}

// Resolve routes one inbound envelope. A response whose id matches a pending
// entry fulfills that entry and removes it; a response to an unknown id is
// dropped (a late or duplicate response is not an error). An envelope with
// no id is a notification: it goes to the active sink, or nowhere.
func (c *Correlator) Resolve(env *rpcprobe.Envelope) {
	if env.IsNotification() {
		c.mu.Lock()
		sink := c.sink
		c.mu.Unlock()
		if sink != nil {
			sink(env)
		}
		return
	}
	item := c.pending.Get(*env.ID)
	if item == nil {
		slog.Debug("response for unknown request id", "id", *env.ID)
		return
	}
	item.Value().fulfill(env, nil)
	c.pending.Delete(*env.ID)
}

// CancelAll fails every still-pending handle with err, so no caller is left
// awaiting a response that can never arrive.
func (c *Correlator) CancelAll(err error) {
	var calls []*Call
	c.pending.Range(func(item *ttlcache.Item[uint64, *Call]) bool {
		calls = append(calls, item.Value())
		return true
	})
	c.pending.DeleteAll()
	for _, call := range calls {
		call.fulfill(nil, err)
	}
}

// SetNotifySink installs fn as the destination for notifications. Passing
// nil detaches the current sink; notifications are then discarded, not
// queued.
func (c *Correlator) SetNotifySink(fn func(*rpcprobe.Envelope)) {
	c.mu.Lock()
	c.sink = fn
	c.mu.Unlock()
}

// Outstanding returns the number of requests awaiting a response.
func (c *Correlator) Outstanding() int {
	return c.pending.Len()
}
