package ari

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStateLabels(t *testing.T) {
	cases := map[string]State{
		"Down":            StateDown,
		"Rsrvd":           StateReserved,
		"OffHook":         StateOffHook,
		"Dialing":         StateDialing,
		"Ring":            StateRing,
		"Ringing":         StateRinging,
		"Up":              StateUp,
		"Busy":            StateBusy,
		"Dialing Offhook": StateDialingOffHook,
		"Pre-ring":        StatePreRing,
		"Mute":            StateMute,
		"Unknown":         StateUnknown,
	}
	for label, want := range cases {
		assert.Equal(t, want, ParseState(label), "label %q", label)
	}
}

func TestParseStateUnmatched(t *testing.T) {
	for _, label := range []string{"", "up", "UP", "Dialing offhook", "Prering", " Up", "Reserved"} {
		assert.Equal(t, StateUnknown, ParseState(label), "label %q", label)
	}
}

func TestStateString(t *testing.T) {
	want := []string{"down", "reserved", "offhook", "dialing", "ring", "ringing",
		"up", "busy", "dialingoffhook", "prering", "mute", "unknown"}
	for i, s := range want {
		assert.Equal(t, s, State(i).String())
	}
	assert.Equal(t, "dialingoffhook", ParseState("Dialing Offhook").String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "none", DirectionNone.String())
	assert.Equal(t, "both", DirectionBoth.String())
	assert.Equal(t, "in", DirectionIn.String())
	assert.Equal(t, "out", DirectionOut.String())
}

func TestTerminationDtmfString(t *testing.T) {
	assert.Equal(t, "none", TerminateNone.String())
	assert.Equal(t, "none", TerminationDtmf("").String())
	assert.Equal(t, "any", TerminateAny.String())
	assert.Equal(t, "*", TerminateStar.String())
	assert.Equal(t, "#", TerminatePound.String())
}
