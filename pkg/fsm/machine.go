// Package fsm implements the ingestion run finite state machine workflow.
// It drives one run through fetch, stage, persist and complete using the
// superfly/fsm library. Every failure aborts the run; nothing is retried.
package fsm

import (
	"context"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/superfly/fsm"
)

// Name is the registered workflow name.
const Name = "catalog-ingest"

// Register registers the ingestion FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RunRequest, RunResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[RunRequest, RunResponse](manager, Name).
		Start(StateFetch, m.handleFetch).
		To(StateStage, m.handleStage).
		To(StatePersist, m.handlePersist).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
