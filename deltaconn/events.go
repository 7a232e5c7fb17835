package deltaconn

// DeltaEvent emitted when the script changes one node of the document.
type DeltaEvent struct {
	Path    []int
	Kind    string
	Element []byte
}

// NewSessionEvent emitted when a script run starts.
type NewSessionEvent = NewSessionPayload

// ScriptFinishedEvent emitted when a script run ends.
type ScriptFinishedEvent = ScriptFinishedPayload

// SessionEvent emitted on session-level changes.
type SessionEvent = SessionEventPayload
