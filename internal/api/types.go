package api

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8000
)

// RootResponse is the body of GET /.
type RootResponse struct {
	Message string `json:"message"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one prompt file sent to the assistant, as recorded in the journal.
type Run struct {
	ID           string    `json:"id"`
	PromptPath   string    `json:"prompt_path"`
	Directory    string    `json:"directory,omitempty"`
	Status       RunStatus `json:"status"`
	SessionID    string    `json:"session_id,omitempty"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	StartedAt    string    `json:"started_at"`
	FinishedAt   string    `json:"finished_at,omitempty"`
	Attempts     []Attempt `json:"attempts,omitempty"`
}

// Attempt is the outcome of one check step within one supervisor attempt.
type Attempt struct {
	RunID      string `json:"run_id"`
	AttemptNum int    `json:"attempt_num"`
	StepName   string `json:"step_name"`
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	RecordedAt string `json:"recorded_at"`
}

// StateResponse mirrors the batch state document.
type StateResponse struct {
	Directories map[string][]string `json:"directories"`
}
