// Package conn owns the socket lifecycle: connect with retry, the inbound
// read loop, writes, and disconnection handling.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	rpcprobe "github.com/rpcprobe/rpcprobe"
	"github.com/rpcprobe/rpcprobe/internal/rpc"
	"github.com/rpcprobe/rpcprobe/internal/wire"
)

// retryDelay is the fixed pause between connect attempts. The socket is
// local IPC and expected to appear quickly once the server starts, so there
// is no backoff.
const retryDelay = time.Second

// ErrClosed reports that the connection is gone. Every pending request
// fails with it when the socket drops.
var ErrClosed = errors.New("conn: connection closed")

// State describes the connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Conn is a single live connection to the JSON-RPC service. It exclusively
// owns the socket handle; all request/response traffic goes through the
// correlator.
type Conn struct {
	corr  *rpc.Correlator
	state atomic.Int32
	nc    net.Conn
	done  chan struct{}
}

// Dial connects to the Unix socket at path, retrying every second until it
// succeeds or ctx is cancelled, then starts the inbound read loop. The
// identification handshake is the caller's next step; the connection is not
// considered ready before it completes.
func Dial(ctx context.Context, path string, corr *rpc.Correlator) (*Conn, error) {
	var d net.Dialer
	for {
		nc, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			c := &Conn{corr: corr, nc: nc, done: make(chan struct{})}
			c.state.Store(int32(Connected))
			go c.readLoop(nc)
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("connect failed, retrying", "path", path, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection is gone, however it died.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Identify performs the identification handshake and returns the server's
// response.
func (c *Conn) Identify(ctx context.Context, idc rpcprobe.IdentifyConfig) (*rpcprobe.Envelope, error) {
	return c.Call(ctx, idc.Method, idc.Params())
}

// Call issues a request and awaits the matching response. Responses are
// matched purely by id, not by send order.
func (c *Conn) Call(ctx context.Context, method string, params map[string]any) (*rpcprobe.Envelope, error) {
	env, call := c.corr.NewRequest(method, params)
	if err := c.Send(env); err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Send serializes one envelope and writes it to the socket. A write failure
// tears the connection down, failing everything pending.
func (c *Conn) Send(env *rpcprobe.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	if c.State() != Connected {
		return ErrClosed
	}
	if _, err := c.nc.Write(data); err != nil {
		slog.Warn("socket write failed", "error", err)
		c.Close()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// readLoop consumes the decoded envelope stream and routes each through the
// correlator. End of stream, a reset, or a runaway garbage stream all end
// in Close.
func (c *Conn) readLoop(nc net.Conn) {
	dec := wire.NewDecoder(nc)
	for {
		env, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && c.State() == Connected {
				slog.Debug("socket read loop ending", "error", err)
			}
			break
		}
		c.corr.Resolve(env)
	}
	c.Close()
}

// Close releases the socket and fails every pending request with ErrClosed.
// It is idempotent: closing an already-dead connection is a no-op.
func (c *Conn) Close() {
	if !c.state.CompareAndSwap(int32(Connected), int32(Disconnected)) {
		return
	}
	c.nc.Close()
	c.corr.CancelAll(ErrClosed)
	close(c.done)
}
