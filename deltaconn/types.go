package deltaconn

import "encoding/json"

const (
	ProtocolVersion = 1

	// server -> client
	forwardNewSession     = "new_session"
	forwardDelta          = "delta"
	forwardScriptFinished = "script_finished"
	forwardSessionEvent   = "session_event"
	forwardRef            = "ref"

	// client -> server
	backRerunScript     = "rerun_script"
	backStopScript      = "stop_script"
	backWidgetStates    = "widget_states"
	backCloseConnection = "close_connection"
)

// ForwardMsg is the envelope server -> client.
type ForwardMsg struct {
	Type     string          `json:"type"`
	Hash     string          `json:"hash,omitempty"`
	RefHash  string          `json:"ref_hash,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Metadata describes where a forward message applies.
type Metadata struct {
	Cacheable   bool  `json:"cacheable,omitempty"`
	DeltaPath   []int `json:"delta_path,omitempty"`
	ElementSize int   `json:"element_size,omitempty"`
}

// BackMsg is the envelope client -> server.
type BackMsg struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewSessionPayload starts a script run.
type NewSessionPayload struct {
	Protocol   int    `json:"protocol,omitempty"`
	SessionID  string `json:"session_id"`
	ScriptPath string `json:"script_path,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// DeltaPayload changes one node of the document tree.
type DeltaPayload struct {
	Kind    string          `json:"kind"` // new_element, add_block, add_rows
	Element json.RawMessage `json:"element,omitempty"`
}

// ScriptFinishedPayload ends a script run.
type ScriptFinishedPayload struct {
	Status string `json:"status"` // success, compile_error, stopped
}

// SessionEventPayload reports session-level changes.
type SessionEventPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// RerunPayload asks the server to run the script again.
type RerunPayload struct {
	QueryString  string          `json:"query_string,omitempty"`
	WidgetStates json.RawMessage `json:"widget_states,omitempty"`
}

// RerunScript builds a rerun request.
func RerunScript(query string) *BackMsg {
	return &BackMsg{Type: backRerunScript, Data: RerunPayload{QueryString: query}}
}

// StopScript builds a stop request.
func StopScript() *BackMsg { return &BackMsg{Type: backStopScript} }

// WidgetStates builds a widget state update.
func WidgetStates(states json.RawMessage) *BackMsg {
	return &BackMsg{Type: backWidgetStates, Data: RerunPayload{WidgetStates: states}}
}

// CloseConnection tells the server the client is going away.
func CloseConnection() *BackMsg { return &BackMsg{Type: backCloseConnection} }

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
