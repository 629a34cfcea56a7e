package main

import (
	"time"

	"aricall/ari"
)

// CallState represents the progress of a call handled by the App.
type CallState int

const (
	StateRinging CallState = iota
	StateAnswered
	StateGreeting
	StateRecording
	StateRedirected
	StateCleanup
)

var callStateNames = [...]string{"ringing", "answered", "greeting", "recording", "redirected", "cleanup"}

func (s CallState) String() string {
	if s < 0 || int(s) >= len(callStateNames) {
		return "unknown"
	}
	return callStateNames[s]
}

// CallContext holds state for a single call in the application.
type CallContext struct {
	Channel   *ari.Channel
	Inbound   bool
	State     CallState
	StartedAt time.Time

	// Disposition is stored with the call record.
	Disposition string
	Playback    *ari.Playback
	Recording   *ari.Recording

	ringTimer *time.Timer
}

func (c *CallContext) stopTimer() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}
