//go:build !tinygo

package capture

import "sync"

// state is a placeholder for the interrupt mask on regular Go.
type state uintptr

// irq serializes simulated interrupt handlers and foreground critical
// sections, standing in for a single interrupt priority level.
var irq sync.Mutex

// disableInterrupts enters the process-wide critical section.
func disableInterrupts() state {
	irq.Lock()
	return 0
}

// restoreInterrupts leaves the critical section.
func restoreInterrupts(s state) {
	irq.Unlock()
}
