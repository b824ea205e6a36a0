// Package editing implements the rules that tie user edits to in-flight
// generation requests: edits truncate stale turns before a new reply is
// requested, and results that arrive for a target that changed or vanished
// in the meantime are discarded instead of applied.
package editing

// Ticket identifies one in-flight generation request for a target.
type Ticket struct {
	Key string
	Gen uint64
}

// Tracker keeps a monotonic generation counter per target key. Beginning a
// new request, or cancelling, bumps the counter so that earlier tickets stop
// being current. Tracker is not safe for concurrent use; it is guarded by the
// lock of the coordinator that owns it.
type Tracker struct {
	gens    map[string]uint64
	pending map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		gens:    make(map[string]uint64),
		pending: make(map[string]struct{}),
	}
}

// Begin starts a request for key, superseding any request already in flight
// for it.
func (t *Tracker) Begin(key string) Ticket {
	t.gens[key]++
	t.pending[key] = struct{}{}
	return Ticket{Key: key, Gen: t.gens[key]}
}

// Current reports whether tk is still the latest request for its key and has
// not been cancelled.
func (t *Tracker) Current(tk Ticket) bool {
	if _, ok := t.pending[tk.Key]; !ok {
		return false
	}
	return t.gens[tk.Key] == tk.Gen
}

// Finish marks tk as done. Finishing a stale ticket is a no-op.
func (t *Tracker) Finish(tk Ticket) {
	if t.gens[tk.Key] == tk.Gen {
		delete(t.pending, tk.Key)
	}
}

// Cancel invalidates any in-flight request for the given keys.
func (t *Tracker) Cancel(keys ...string) {
	for _, k := range keys {
		if _, ok := t.pending[k]; ok {
			t.gens[k]++
			delete(t.pending, k)
		}
	}
}

// CancelAll invalidates every in-flight request.
func (t *Tracker) CancelAll() {
	for k := range t.pending {
		t.gens[k]++
	}
	clear(t.pending)
}

// Pending returns the number of requests in flight.
func (t *Tracker) Pending() int {
	return len(t.pending)
}

// IsPending reports whether key has a request in flight.
func (t *Tracker) IsPending(key string) bool {
	_, ok := t.pending[key]
	return ok
}
