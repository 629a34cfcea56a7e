package ari

import (
	"sync"
	"testing"
)

type sentCommand struct {
	cmd  Command
	done func([]byte, error)
}

// fakeTransport records commands and lets tests resolve them in any order.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentCommand
}

func (f *fakeTransport) Send(cmd Command, done func([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{cmd: cmd, done: done})
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) at(t *testing.T, i int) sentCommand {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sent) {
		t.Fatalf("command %d not sent (have %d)", i, len(f.sent))
	}
	return f.sent[i]
}

func (f *fakeTransport) last(t *testing.T) sentCommand {
	t.Helper()
	return f.at(t, f.count()-1)
}

func newTestChannel(id string) (*Channel, ChannelEvents, *fakeTransport) {
	ft := &fakeTransport{}
	ch, ev := NewChannel(ft, id)
	return ch, ev, ft
}
