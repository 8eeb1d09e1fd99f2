package core

// ExternalFault debounces the shared fault input with an 8-sample shift
// register. Eight consecutive low samples raise the external fault once;
// eight consecutive high samples re-arm it.
type ExternalFault struct {
	sup   *Supervisor
	input InputPin

	shift     uint8
	triggered bool
}

// NewExternalFault creates the debouncer with the line idle high.
func NewExternalFault(sup *Supervisor, input InputPin) *ExternalFault {
	return &ExternalFault{sup: sup, input: input, shift: 0xFF}
}

// Sample takes one reading of the input.
func (e *ExternalFault) Sample() {
	var bit uint8
	if e.input.Get() {
		bit = 1
	}
	e.shift = e.shift<<1 | bit

	switch e.shift {
	case 0x00:
		// The load pulls the same line low while indicating its own
		// fault; only an otherwise healthy load reports it as external.
		if !e.triggered && e.sup.Faults()&e.sup.FaultMask() == 0 {
			e.sup.TriggerFault(FaultExternal)
			e.triggered = true
		}
	case 0xFF:
		e.triggered = false
	}
}
