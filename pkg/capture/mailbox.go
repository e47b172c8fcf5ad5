package capture

// mailbox is a single-slot hand-off between the window-close interrupt
// (producer) and the foreground loop (consumer). Both sides must hold the
// interrupt critical section while touching it.
type mailbox struct {
	slot    Window
	full    bool
	overrun uint32
}

// post stores w, replacing an unread window.
func (m *mailbox) post(w Window) {
	if m.full {
		m.overrun++
	}
	m.slot = w
	m.full = true
}

// take returns the stored window and empties the slot.
func (m *mailbox) take() (Window, bool) {
	if !m.full {
		return Window{}, false
	}
	m.full = false
	return m.slot, true
}

func (m *mailbox) reset() {
	*m = mailbox{}
}
