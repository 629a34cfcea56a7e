package ari

import (
	"errors"
	"fmt"
)

// ErrClosed resolves commands still in flight when the transport shuts down.
var ErrClosed = errors.New("ari: transport closed")

// Transport delivers commands to Asterisk.
//
// Send must not block. done is called exactly once with the response body
// or an error, on the goroutine that also delivers events.
type Transport interface {
	Send(cmd Command, done func(body []byte, err error))
}

// TransportError reports a command rejected by Asterisk or lost in transit.
type TransportError struct {
	Method     Method
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ari: %s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("ari: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
