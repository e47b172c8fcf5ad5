//go:build tinygo

package capture

import "runtime/interrupt"

// state is the saved interrupt mask.
type state = interrupt.State

// disableInterrupts masks interrupts and returns the previous state.
func disableInterrupts() state {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state.
func restoreInterrupts(s state) {
	interrupt.Restore(s)
}
