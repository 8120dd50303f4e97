package adunit

// Action is the outcome of one gate evaluation.
type Action int

const (
	NoOp          Action = iota // NoOp means the unit is destroyed or nothing changed.
	SkipGate                    // At least one of viewport, foreground or due is false.
	Registered                  // First impression: handed to the ad queue for a batched display.
	AwaitSlot                   // Registered already, the slot is still being defined.
	Refreshed                   // A refresh command was pushed for the unit's slot.
	SuppressLimit               // The refresh limit is reached; the external service is not called.
)

var StatusTextMap = map[Action]string{
	NoOp:          "no_op",
	SkipGate:      "skip_gate",
	Registered:    "registered",
	AwaitSlot:     "await_slot",
	Refreshed:     "refreshed",
	SuppressLimit: "suppress_limit",
}

func (a Action) String() string {
	return StatusTextMap[a]
}
