package testutil

import "sync"

// Recorder collects labels in call order. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Record appends label.
func (r *Recorder) Record(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, label)
}

// Events returns a copy of the recorded labels.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
