package types

// Event represents a typed event emitted during state transitions. Attributes
// carry the audit payload consumed by off-chain observers; keys are stable per
// event type.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
