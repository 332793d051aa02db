package model

// WebSocket message types
const (
	WSMessageTypeStage    = "stage"
	WSMessageTypeComplete = "complete"
	WSMessageTypeArtifact = "artifact"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStageMessage is sent on every applied stage change
type WSStageMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Stage Stage  `json:"stage"`
}

// WSCompleteMessage is sent once the job finished with SUCCESS
type WSCompleteMessage struct {
	Type        string `json:"type"`
	JobID       string `json:"jobId"`
	ResultURL   string `json:"resultUrl"`
	ArtifactURL string `json:"artifactUrl,omitempty"`
	Title       string `json:"title,omitempty"`
}

// WSErrorMessage is sent when the job ends in FAILED or TIMEOUT
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Stage Stage   `json:"stage"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
