package ari

// State is the lifecycle state of a channel as reported by Asterisk.
type State int

const (
	StateDown State = iota
	StateReserved
	StateOffHook
	StateDialing
	StateRing
	StateRinging
	StateUp
	StateBusy
	StateDialingOffHook
	StatePreRing
	StateMute
	StateUnknown
)

var stateNames = [...]string{
	StateDown:           "down",
	StateReserved:       "reserved",
	StateOffHook:        "offhook",
	StateDialing:        "dialing",
	StateRing:           "ring",
	StateRinging:        "ringing",
	StateUp:             "up",
	StateBusy:           "busy",
	StateDialingOffHook: "dialingoffhook",
	StatePreRing:        "prering",
	StateMute:           "mute",
	StateUnknown:        "unknown",
}

// stateLabels maps the event-stream vocabulary to states. Matching is exact.
var stateLabels = map[string]State{
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

// ParseState maps a protocol state label to a State. Unmatched labels
// yield StateUnknown.
func ParseState(label string) State {
	if s, ok := stateLabels[label]; ok {
		return s
	}
	return StateUnknown
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return stateNames[StateUnknown]
	}
	return stateNames[s]
}

// Direction selects the audio direction for mute and snoop operations.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionBoth
	DirectionIn
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionBoth:
		return "both"
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "none"
	}
}

// TerminationDtmf is the DTMF input that stops a recording.
type TerminationDtmf string

const (
	TerminateNone  TerminationDtmf = "none"
	TerminateAny   TerminationDtmf = "any"
	TerminateStar  TerminationDtmf = "*"
	TerminatePound TerminationDtmf = "#"
)

func (t TerminationDtmf) String() string {
	if t == "" {
		return string(TerminateNone)
	}
	return string(t)
}

// IfExists is the policy applied when a recording name is already taken.
type IfExists string

const (
	IfExistsDefault   IfExists = ""
	IfExistsFail      IfExists = "fail"
	IfExistsOverwrite IfExists = "overwrite"
	IfExistsAppend    IfExists = "append"
)
