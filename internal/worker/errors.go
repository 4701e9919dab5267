package worker

import "fmt"

// ProbeError represents an error that occurred while probing a server
type ProbeError struct {
	ServerID string
	Stage    string // The stage where the error occurred
	Err      error  // Original error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.ServerID, e.Stage, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func NewProbeError(serverID, stage string, err error) error {
	return &ProbeError{
		ServerID: serverID,
		Stage:    stage,
		Err:      err,
	}
}
