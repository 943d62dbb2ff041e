package types

// Event represents a typed event emitted during state transitions. Attributes
// are flat strings so events serialize identically to JSON, logs, and the
// export surface without reflection.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute or the empty string when absent.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
