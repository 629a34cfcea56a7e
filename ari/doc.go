// Package ari is a client for the Asterisk REST Interface.
//
// A Channel is a local proxy for one call leg. Its operations build a
// Command, hand it to a Transport and return a Continuation; callers attach
// OnSuccess and OnError callbacks instead of blocking:
//
//	ch := client.NewChannel()
//	ch.Call("pjsip/100", client.Application(), "Alice", nil).
//		OnError(func(err error) { log.Warnf("call failed: %v", err) })
//
// The Router applies the event stream to channels through the ChannelEvents
// capability, which is never exposed on Channel itself. Client implements
// Transport over HTTP and feeds the WebSocket event stream to its Router;
// command completions and events share one dispatch goroutine.
package ari
