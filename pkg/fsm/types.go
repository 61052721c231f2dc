package fsm

import (
	"github.com/catvault/catvault/pkg/catalog"
	"github.com/catvault/catvault/pkg/ingest"
)

// RunRequest is the FSM input
type RunRequest struct {
	RunID  string
	Source string
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	// From Fetch
	Items []catalog.RawItem

	// From Stage
	Staged *ingest.Staged

	// From Persist
	Result *ingest.Result

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateFetch    = "fetch"
	StateStage    = "stage"
	StatePersist  = "persist"
	StateComplete = "complete"
	StateFailed   = "failed"
)
