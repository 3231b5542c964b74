package protocol

import "time"

// RecordingEvent is published when a capture session starts or ends.
type RecordingEvent struct {
	SessionID string    `json:"session_id"`
	FileName  string    `json:"file_name"`
	PID       int       `json:"pid,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEvent is published when a transcription job finishes.
type TranscriptEvent struct {
	FileName       string    `json:"file_name"`
	Model          string    `json:"model"`
	TranscriptFile string    `json:"transcript_file,omitempty"`
	Chars          int       `json:"chars,omitempty"`
	LatencyMS      int64     `json:"latency_ms,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ControlReply answers a request on one of the control subjects.
type ControlReply struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Active   bool   `json:"active"`
	FileName string `json:"file_name,omitempty"`
}

const (
	SubjectRecordingStarted    = "capture.recording.started"
	SubjectRecordingStopped    = "capture.recording.stopped"
	SubjectTranscriptCompleted = "capture.transcript.completed"
	SubjectTranscriptFailed    = "capture.transcript.failed"

	SubjectControlStart  = "capture.control.start"
	SubjectControlStop   = "capture.control.stop"
	SubjectControlStatus = "capture.control.status"
)
