package pipeline

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
)

// transitions lists the legal successors of every non-terminal state.
var transitions = map[model.RunState][]model.RunState{
	model.RunPending:         {model.RunRunningCritical, model.RunFailed},
	model.RunRunningCritical: {model.RunRunningParallel, model.RunFailed},
	model.RunRunningParallel: {model.RunCompiling},
	model.RunCompiling:       {model.RunMerging},
	model.RunMerging:         {model.RunCompleted},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to model.RunState) bool {
	return slices.Contains(transitions[from], to)
}

// machine tracks the state of one run and the path it took.
type machine struct {
	state   model.RunState
	history []model.RunState
}

func newMachine() *machine {
	return &machine{state: model.RunPending, history: []model.RunState{model.RunPending}}
}

func (m *machine) advance(to model.RunState) error {
	if !CanTransition(m.state, to) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", m.state, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
