package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewState(t *testing.T) {
	s := NewState(t0)

	assert.Equal(t, StateCreated, s.Current)
	require.Len(t, s.History, 1)
	assert.Equal(t, HistoryEntry{State: StateCreated, Date: t0}, s.History[0])
	assert.False(t, s.IsTerminal())
}

func TestState_Duration_Terminal(t *testing.T) {
	t1 := t0.Add(5 * time.Second)
	t2 := t0.Add(90 * time.Second)

	s := NewState(t0)
	s, err := s.Apply(StateRunning, t1)
	require.NoError(t, err)
	s, err = s.Apply(StateSuccess, t2)
	require.NoError(t, err)

	d, ok := s.Duration()
	require.True(t, ok)
	assert.Equal(t, t2.Sub(t0), d)
}

func TestState_Duration_NotTerminal(t *testing.T) {
	s := NewState(t0)
	_, ok := s.Duration()
	assert.False(t, ok, "CREATED не должен иметь duration")

	s, err := s.Apply(StateRunning, t0.Add(time.Second))
	require.NoError(t, err)

	_, ok = s.Duration()
	assert.False(t, ok, "RUNNING не должен иметь duration")
}

func TestState_Apply_DoesNotMutate(t *testing.T) {
	s := NewState(t0)

	next, err := s.Apply(StateRunning, t0.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, StateCreated, s.Current)
	assert.Len(t, s.History, 1)
	assert.Equal(t, StateRunning, next.Current)
	assert.Len(t, next.History, 2)
}

func TestState_Apply_RejectsAfterTerminal(t *testing.T) {
	s := NewState(t0)
	s, err := s.Apply(StateCancelled, t0.Add(time.Second))
	require.NoError(t, err)

	_, err = s.Apply(StateRunning, t0.Add(2*time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonTerminal, invalid.Reason)
	assert.Equal(t, StateCancelled, invalid.From)
}

func TestState_Apply_RejectsClockSkew(t *testing.T) {
	s := NewState(t0)
	s, err := s.Apply(StateRunning, t0.Add(10*time.Second))
	require.NoError(t, err)

	_, err = s.Apply(StateSuccess, t0.Add(5*time.Second))
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonClock, invalid.Reason)
}

func TestState_Apply_EqualTimestampAllowed(t *testing.T) {
	s := NewState(t0)
	s, err := s.Apply(StateCancelled, t0)
	require.NoError(t, err)

	d, ok := s.Duration()
	require.True(t, ok)
	assert.Zero(t, d)
}

func TestState_Apply_RejectsNotAllowed(t *testing.T) {
	tests := []struct {
		name string
		from []StateType
		to   StateType
	}{
		{"created to success", nil, StateSuccess},
		{"created to paused", nil, StatePaused},
		{"queued to success", []StateType{StateQueued}, StateSuccess},
		{"killing to running", []StateType{StateRunning, StateKilling}, StateRunning},
		{"unknown target", nil, StateType("BOGUS")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(t0)
			at := t0
			for _, st := range tt.from {
				at = at.Add(time.Second)
				var err error
				s, err = s.Apply(st, at)
				require.NoError(t, err)
			}

			_, err := s.Apply(tt.to, at.Add(time.Second))
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestState_History_Monotonic(t *testing.T) {
	paths := [][]StateType{
		{StateRunning, StateSuccess},
		{StateQueued, StateRunning, StatePaused, StateRunning, StateWarning},
		{StateRunning, StateRetrying, StateRunning, StateFailed},
		{StateRunning, StateKilling, StateKilled},
		{StateQueued, StateCancelled},
		{StateSkipped},
	}

	for _, path := range paths {
		s := NewState(t0)
		at := t0
		for i, st := range path {
			// одинаковые timestamps тоже допустимы
			if i%2 == 0 {
				at = at.Add(time.Duration(i+1) * time.Second)
			}
			var err error
			s, err = s.Apply(st, at)
			require.NoError(t, err, "path %v step %s", path, st)
		}

		require.Len(t, s.History, len(path)+1)
		terminals := 0
		for i, h := range s.History {
			if i > 0 {
				assert.False(t, h.Date.Before(s.History[i-1].Date))
			}
			if h.State.IsTerminal() {
				terminals++
			}
		}
		assert.Equal(t, 1, terminals)

		d, ok := s.Duration()
		require.True(t, ok)
		assert.Equal(t, s.History[len(s.History)-1].Date.Sub(t0), d)
	}
}

func TestStateType_Categories(t *testing.T) {
	assert.True(t, StateCreated.IsCreated())
	for _, st := range []StateType{StateQueued, StateRunning, StatePaused, StateRetrying, StateKilling} {
		assert.True(t, st.IsRunning(), st)
		assert.False(t, st.IsTerminal(), st)
	}
	for _, st := range TerminalStates() {
		assert.True(t, st.IsTerminal(), st)
		assert.False(t, st.IsRunning(), st)
		assert.Empty(t, transitions[st], "terminal %s must have no outgoing transitions", st)
	}
	assert.Len(t, TerminalStates(), 6)
}

func TestParseStateType(t *testing.T) {
	st, err := ParseStateType("RUNNING")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st)

	_, err = ParseStateType("running")
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestExecution_Transition(t *testing.T) {
	exec := NewExecution(FlowKey{Tenant: "main", Namespace: "ns", FlowID: "f"}, ExecutionTrigger{Type: TriggerManual}, t0)

	running, err := exec.Transition(StateRunning, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StateCreated, exec.State.Current)
	assert.Equal(t, StateRunning, running.State.Current)
	assert.Equal(t, exec.ID, running.ID)

	retrying, err := running.Transition(StateRetrying, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, retrying.Metadata.Attempt)

	_, err = exec.Transition(StateSuccess, t0.Add(time.Second))
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, exec.ID, invalid.ExecutionID)
}
