package ari

import (
	"context"
	"sync"
)

// Void is the payload of commands whose response carries no data.
type Void = struct{}

// Continuation is one in-flight command. Exactly one of the success or
// error callbacks fires, exactly once, after the transport resolves the
// command. Callbacks registered after resolution fire immediately on the
// registering goroutine; otherwise they run on the transport's dispatch loop.
type Continuation[T any] struct {
	mu        sync.Mutex
	resolved  bool
	fired     bool
	value     T
	err       error
	onSuccess func(T)
	onError   func(error)
	done      chan struct{}

	// pending is the payload known before resolution; set once at issue.
	pending T
}

func newContinuation[T any]() *Continuation[T] {
	return &Continuation[T]{done: make(chan struct{})}
}

// OnSuccess registers fn to receive the payload of a successful command.
// A later registration replaces an earlier one that has not fired yet.
func (c *Continuation[T]) OnSuccess(fn func(T)) *Continuation[T] {
	c.mu.Lock()
	c.onSuccess = fn
	fire := c.takeLocked()
	c.mu.Unlock()
	fire()
	return c
}

// OnError registers fn to receive the failure of the command.
func (c *Continuation[T]) OnError(fn func(error)) *Continuation[T] {
	c.mu.Lock()
	c.onError = fn
	fire := c.takeLocked()
	c.mu.Unlock()
	fire()
	return c
}

// Pending returns the payload that was known when the command was issued,
// such as the handle of a playback whose id the client chose. It is the zero
// value for commands whose payload comes from the response.
func (c *Continuation[T]) Pending() T {
	return c.pending
}

// Done is closed once the command is resolved.
func (c *Continuation[T]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the command is resolved or ctx ends. It must not be
// called from a callback running on the dispatch loop.
func (c *Continuation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// resolve records the outcome. Only the first call has any effect.
func (c *Continuation[T]) resolve(value T, err error) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return
	}
	c.resolved = true
	c.value = value
	c.err = err
	close(c.done)
	fire := c.takeLocked()
	c.mu.Unlock()
	fire()
}

// takeLocked returns the callback invocation due now, or a no-op. Callers
// must hold c.mu and run the result after unlocking.
func (c *Continuation[T]) takeLocked() func() {
	if !c.resolved || c.fired {
		return func() {}
	}
	if c.err != nil {
		if c.onError == nil {
			return func() {}
		}
		c.fired = true
		fn, err := c.onError, c.err
		return func() { fn(err) }
	}
	if c.onSuccess == nil {
		return func() {}
	}
	c.fired = true
	fn, v := c.onSuccess, c.value
	return func() { fn(v) }
}

// issue hands cmd to t and returns the continuation that decode resolves.
func issue[T any](t Transport, cmd Command, decode func([]byte) (T, error)) *Continuation[T] {
	return send(newContinuation[T](), t, cmd, decode)
}

func send[T any](c *Continuation[T], t Transport, cmd Command, decode func([]byte) (T, error)) *Continuation[T] {
	t.Send(cmd, func(body []byte, err error) {
		if err != nil {
			var zero T
			c.resolve(zero, err)
			return
		}
		v, err := decode(body)
		c.resolve(v, err)
	})
	return c
}

// issueVoid issues a command whose response body is ignored.
func issueVoid(t Transport, cmd Command) *Continuation[Void] {
	return issue(t, cmd, func([]byte) (Void, error) { return Void{}, nil })
}

// issueValue issues a command whose payload is known before it resolves.
func issueValue[T any](t Transport, cmd Command, v T) *Continuation[T] {
	c := newContinuation[T]()
	c.pending = v
	return send(c, t, cmd, func([]byte) (T, error) { return v, nil })
}
