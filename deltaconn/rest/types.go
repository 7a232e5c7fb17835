package rest

// Manifest describes a session stored for static playback.
type Manifest struct {
	SessionID   string `json:"session_id"`
	NumMessages int    `json:"num_messages"`
	ScriptName  string `json:"script_name,omitempty"`
	// FirstFrame is the index of the first frame to fetch; earlier ones were pruned.
	FirstFrame int `json:"first_frame,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
