package manifest

import "sync"

// Diagnostics accumulates every non-fatal *Error produced during one
// parse()/refresh() call, alongside the Manifest, so a caller can render a
// "manifest had N warnings" indicator without intercepting Callbacks.OnError
// synchronously. Mirrors the result-plus-reasons pattern parsers elsewhere
// in this codebase return.
type Diagnostics struct {
	mu       sync.Mutex
	warnings []*Error
}

// NewDiagnostics constructs an empty Diagnostics accumulator.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Add records a recoverable warning. Critical errors are not recorded here
// since they abort the parse outright and are returned directly.
func (d *Diagnostics) Add(err *Error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warnings = append(d.warnings, err)
}

// Warnings returns a snapshot of every warning recorded so far.
func (d *Diagnostics) Warnings() []*Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Error, len(d.warnings))
	copy(out, d.warnings)
	return out
}

// Count returns the number of warnings recorded so far.
func (d *Diagnostics) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.warnings)
}

// Reset clears every recorded warning. Nothing in this module calls it;
// without a caller's Reset, warnings accumulate across refreshes of a
// long-lived live manifest.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warnings = nil
}
