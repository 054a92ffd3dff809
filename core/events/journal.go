package events

import "sync"

// Journal is an Emitter that can stage events inside a transactional
// boundary. Outside a transaction events pass straight through to the
// target. Between Begin and Commit they are buffered; Commit releases them in
// order and Rollback discards them, so a reverted transition retracts its
// audit trail together with its state writes.
type Journal struct {
	mu      sync.Mutex
	target  Emitter
	staging bool
	staged  []Event
}

// NewJournal creates a journal forwarding to target. A nil target discards
// released events.
func NewJournal(target Emitter) *Journal {
	if target == nil {
		target = NoopEmitter{}
	}
	return &Journal{target: target}
}

// SetTarget replaces the downstream emitter. Passing nil resets it to a
// no-op.
func (j *Journal) SetTarget(target Emitter) {
	if target == nil {
		target = NoopEmitter{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.target = target
}

// Emit forwards the event, or stages it while a transaction is open.
func (j *Journal) Emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.staging {
		j.staged = append(j.staged, e)
		return
	}
	j.target.Emit(e)
}

// Begin opens the staging boundary. Events emitted until Commit or Rollback
// are held back.
func (j *Journal) Begin() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.staging = true
}

// Commit releases every staged event to the target in emission order and
// closes the boundary.
func (j *Journal) Commit() {
	j.mu.Lock()
	staged := j.staged
	target := j.target
	j.staged = nil
	j.staging = false
	j.mu.Unlock()

	for _, e := range staged {
		target.Emit(e)
	}
}

// Rollback discards every staged event and closes the boundary.
func (j *Journal) Rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.staged = nil
	j.staging = false
}
