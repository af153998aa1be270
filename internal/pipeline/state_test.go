package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
)

func TestMachine_HappyPath(t *testing.T) {
	t.Parallel()

	m := newMachine()
	for _, s := range []model.RunState{model.RunRunningCritical, model.RunRunningParallel, model.RunCompiling, model.RunMerging, model.RunCompleted} {
		require.NoError(t, m.advance(s))
	}
	assert.Equal(t, model.RunCompleted, m.state)
	assert.Len(t, m.history, 6)
}

func TestMachine_RejectsIllegalTransitions(t *testing.T) {
	t.Parallel()

	m := newMachine()
	require.Error(t, m.advance(model.RunMerging))
	assert.Equal(t, model.RunPending, m.state)

	require.NoError(t, m.advance(model.RunRunningCritical))
	require.NoError(t, m.advance(model.RunFailed))
	assert.True(t, m.state.Terminal())
	require.Error(t, m.advance(model.RunRunningParallel), "terminal states have no successors")
}

func TestCanTransition_ParallelStagesNeverFailTheRun(t *testing.T) {
	t.Parallel()

	assert.False(t, CanTransition(model.RunRunningParallel, model.RunFailed))
	assert.False(t, CanTransition(model.RunMerging, model.RunFailed))
	assert.True(t, CanTransition(model.RunRunningCritical, model.RunFailed))
}
