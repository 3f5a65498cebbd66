// Package event shims event-file restore. A dumped ibevent file doesn't
// carry its own fd state; it borrows the async fd of whichever verbs
// context most recently opened.
package event

// ErrNoContext is returned when an event file is restored before any
// verbs context has opened. The reference core returns -1 silently via
// ibevent() in this case; this shim makes the failure explicit instead.
type ErrNoContext struct{}

func (e *ErrNoContext) Error() string {
	return "event: no verbs context has opened an async fd yet"
}

// Tracker holds the most recently opened context's async fd so
// event-file restores can hand it back.
type Tracker struct {
	lastEventFD int
	has         bool
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record stores fd as the most recent async fd, called whenever a verbs
// context opens.
func (t *Tracker) Record(fd int) {
	t.lastEventFD = fd
	t.has = true
}

// FD returns the last recorded async fd, or ErrNoContext if no context
// has opened yet.
func (t *Tracker) FD() (int, error) {
	if !t.has {
		return 0, &ErrNoContext{}
	}
	return t.lastEventFD, nil
}
