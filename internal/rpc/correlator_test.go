package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	rpcprobe "github.com/rpcprobe/rpcprobe"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func response(id uint64, result any) *rpcprobe.Envelope {
	return &rpcprobe.Envelope{Version: rpcprobe.ProtocolVersion, ID: &id, Result: result}
}

func TestResolveMatchesByID(t *testing.T) {
	c := New(0)
	defer c.Close(nil)

	env1, call1 := c.NewRequest("test.echo", map[string]any{"x": 1})
	env2, call2 := c.NewRequest("server.info", nil)
	if *env1.ID == *env2.ID {
		t.Fatal("expected distinct request ids")
	}

	// Responses arrive out of send order; matching is purely by id.
	c.Resolve(response(*env2.ID, "second"))
	c.Resolve(response(*env1.ID, "first"))

	got1, err := call1.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if got1.Result != "first" {
		t.Errorf("call1 resolved with %v", got1.Result)
	}
	got2, err := call2.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if got2.Result != "second" {
		t.Errorf("call2 resolved with %v", got2.Result)
	}
}

func TestResolveUnknownIDIgnored(t *testing.T) {
	c := New(0)
	defer c.Close(nil)

	_, call := c.NewRequest("test.echo", nil)
	c.Resolve(response(9999, "stray"))

	select {
	case <-call.done:
		t.Fatal("pending call resolved by a stray response")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDuplicateResponseSingleFire(t *testing.T) {
	c := New(0)
	defer c.Close(nil)

	env, call := c.NewRequest("test.echo", nil)
	c.Resolve(response(*env.ID, "one"))
	c.Resolve(response(*env.ID, "two"))

	got, err := call.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if got.Result != "one" {
		t.Errorf("expected first response to win, got %v", got.Result)
	}
	if c.Outstanding() != 0 {
		t.Errorf("expected empty pending table, got %d", c.Outstanding())
	}
}

func TestCancelAllFailsEveryPending(t *testing.T) {
	c := New(0)
	defer c.Close(nil)

	errClosed := errors.New("connection closed")
	var calls []*Call
	for i := 0; i < 5; i++ {
		_, call := c.NewRequest("test.echo", nil)
		calls = append(calls, call)
	}

	c.CancelAll(errClosed)

	for i, call := range calls {
		_, err := call.Wait(waitCtx(t))
		if !errors.Is(err, errClosed) {
			t.Errorf("call %d: expected cancellation error, got %v", i, err)
		}
	}
	if c.Outstanding() != 0 {
		t.Errorf("expected empty pending table, got %d", c.Outstanding())
	}
}

func TestRequestTimeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close(nil)

	_, call := c.NewRequest("test.echo", nil)
	_, err := call.Wait(waitCtx(t))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestNotificationRouting(t *testing.T) {
	c := New(0)
	defer c.Close(nil)

	notify := &rpcprobe.Envelope{Version: rpcprobe.ProtocolVersion, Method: "notify_x", Params: map[string]any{}}

	// No sink registered: dropped, and never delivered to a pending call.
	_, call := c.NewRequest("test.echo", nil)
	c.Resolve(notify)
	select {
	case <-call.done:
		t.Fatal("notification delivered to a pending request handle")
	case <-time.After(50 * time.Millisecond):
	}

	got := make(chan *rpcprobe.Envelope, 1)
	c.SetNotifySink(func(env *rpcprobe.Envelope) { got <- env })
	c.Resolve(notify)
	select {
	case env := <-got:
		if env.Method != "notify_x" {
			t.Errorf("sink received %q", env.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("sink never received notification")
	}

	// Detached sink: dropped again.
	c.SetNotifySink(nil)
	c.Resolve(notify)
	select {
	case <-got:
		t.Fatal("notification delivered after sink detached")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitHonorsContext(t *testing.T) {
	c := New(0)
	defer c.Close(nil)

	_, call := c.NewRequest("test.echo", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
