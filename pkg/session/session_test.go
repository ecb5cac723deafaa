package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/agent"
)

func TestSession_SingleRunningTurn(t *testing.T) {
	s := New(Options{})

	_, err := s.AddTurn("first question")
	require.NoError(t, err)

	_, err = s.AddTurn("second question")
	assert.Error(t, err, "a second running turn must be rejected")

	s.FinishTurn("answer", nil, "")
	_, err = s.AddTurn("second question")
	assert.NoError(t, err)
}

func TestSession_TurnStatusTransitions(t *testing.T) {
	s := New(Options{})

	turn, err := s.AddTurn("q")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, turn.Status)

	s.FinishTurn("the answer", map[string]any{"prediction": "the answer"}, "")
	assert.Equal(t, StatusCompleted, turn.Status)
	assert.Equal(t, "the answer", turn.Answer)
}

func TestSession_FailedTurn(t *testing.T) {
	s := New(Options{})
	turn, _ := s.AddTurn("q")

	s.FinishTurn("", nil, "agent exploded")
	assert.Equal(t, StatusFailed, turn.Status)
	assert.Equal(t, "agent exploded", turn.Error)
}

func TestSession_EventsDeriveProcess(t *testing.T) {
	s := New(Options{})
	turn, _ := s.AddTurn("q")

	s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1, Plan: "plan one", Report: "report one"})
	s.AddEvent(agent.Event{Type: agent.EventTool, Round: 1, ToolCall: `{"name":"search"}`, Observation: "results"})
	s.AddEvent(agent.Event{Type: agent.EventRound, Round: 2, Plan: "plan two", Report: "report two"})
	s.AddEvent(agent.Event{Type: agent.EventToolError, Round: 2, ToolCall: `{"name":"visit"}`, Observation: "Error: boom"})

	process := turn.ProcessData()
	require.Len(t, process.Rounds, 2)
	assert.Equal(t, "plan one", process.Rounds[0].Plan)
	assert.Equal(t, "report two", process.Rounds[1].Report)

	require.Len(t, process.Tools, 2)
	assert.False(t, process.Tools[0].IsError)
	assert.True(t, process.Tools[1].IsError)
}

func TestSession_RoundEventUpdatesExistingRound(t *testing.T) {
	s := New(Options{})
	turn, _ := s.AddTurn("q")

	s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1, Plan: "early plan"})
	s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1, Report: "late report"})

	process := turn.ProcessData()
	require.Len(t, process.Rounds, 1)
	assert.Equal(t, "early plan", process.Rounds[0].Plan)
	assert.Equal(t, "late report", process.Rounds[0].Report)
}

func TestSession_EventTimestampsMonotone(t *testing.T) {
	s := New(Options{})
	turn, _ := s.AddTurn("q")

	for i := 1; i <= 5; i++ {
		s.AddEvent(agent.Event{Type: agent.EventRound, Round: i})
	}

	var prev time.Time
	for _, event := range turn.Events {
		ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
		require.NoError(t, err)
		assert.False(t, ts.Before(prev), "timestamps must be monotone")
		prev = ts
	}
}

func TestSession_HistoryContext(t *testing.T) {
	s := New(Options{})

	_, err := s.AddTurn("what is Go?")
	require.NoError(t, err)
	s.FinishTurn("A programming language.", nil, "")

	_, err = s.AddTurn("who created it?")
	require.NoError(t, err)

	ctx := s.HistoryContext(5)
	assert.Contains(t, ctx, "## Previous Conversation History")
	assert.Contains(t, ctx, "what is Go?")
	assert.Contains(t, ctx, "A programming language.")
	// The current (running) turn is never part of the history.
	assert.NotContains(t, ctx, "who created it?")
}

func TestSession_HistoryContextLimitsTurns(t *testing.T) {
	s := New(Options{})

	for i := 0; i < 4; i++ {
		_, err := s.AddTurn("question")
		require.NoError(t, err)
		s.FinishTurn("answer", nil, "")
	}
	_, err := s.AddTurn("current")
	require.NoError(t, err)

	ctx := s.HistoryContext(2)
	assert.Contains(t, ctx, "previous 2 round(s)")
}

func TestSession_HistoryContextEmptyForFirstTurn(t *testing.T) {
	s := New(Options{})
	_, _ = s.AddTurn("first")
	assert.Empty(t, s.HistoryContext(5))
}

func TestSession_WaitStreamDeliversEvents(t *testing.T) {
	s := New(Options{})
	_, _ = s.AddTurn("q")

	go func() {
		s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1})
		s.FinishTurn("done", nil, "")
	}()

	sent := 0
	var finished bool
	deadline := time.After(2 * time.Second)
	for !finished {
		select {
		case <-deadline:
			t.Fatal("stream never finished")
		default:
		}
		update := s.WaitStream(sent)
		sent += len(update.Events)
		finished = update.Finished
	}

	assert.Equal(t, 1, sent)
}

func TestSession_WaitStreamFinalReport(t *testing.T) {
	s := New(Options{})
	_, _ = s.AddTurn("q")

	s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1, Report: "the last report"})
	s.FinishTurn("answer", nil, "")

	// Drain events first.
	update := s.WaitStream(0)
	require.Len(t, update.Events, 1)

	update = s.WaitStream(1)
	assert.True(t, update.Finished)
	assert.Equal(t, StatusCompleted, update.Status)
	assert.Equal(t, "answer", update.Answer)
	assert.Equal(t, "the last report", update.Report)
}
