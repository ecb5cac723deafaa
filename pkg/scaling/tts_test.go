package scaling

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
)

type fakeRunner struct {
	result *agent.Result
	panics bool
}

func (r *fakeRunner) Run(ctx context.Context, question string, progress agent.EventCallback) *agent.Result {
	if r.panics {
		panic("sample exploded")
	}
	return r.result
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	lastUser string
	answer   string
}

func (f *fakeSynthesizer) Complete(ctx context.Context, messages []llms.Message, opts llms.Options) (llms.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range messages {
		if m.Role == llms.RoleUser {
			f.lastUser = m.Content
		}
	}
	return llms.Completion{Content: f.answer}, nil
}

func (f *fakeSynthesizer) ModelName() string { return "gpt-4o" }

func ttsTestConfig(n int) config.AgentConfig {
	cfg := config.AgentConfig{}
	cfg.SetDefaults()
	cfg.TTSNumAgents = n
	return cfg
}

func TestTTS_TwoSucceedOneFails(t *testing.T) {
	runners := []Runner{
		&fakeRunner{result: &agent.Result{Question: "q", Prediction: "9.58s", Report: "Bolt report", Termination: "answer found"}},
		&fakeRunner{panics: true},
		&fakeRunner{result: &agent.Result{Question: "q", Prediction: "Usain Bolt, 9.58", Report: "detailed report", Termination: "answer found"}},
	}

	synthesizer := &fakeSynthesizer{answer: "Usain Bolt holds the 100m world record at 9.58 seconds."}

	tts := NewTTSAgent(nil, nil, ttsTestConfig(3), "").
		WithRunnerFactory(func(index int, temperature float64) Runner { return runners[index] }).
		WithSynthesizer(synthesizer)

	result := tts.Run(context.Background(), "who holds the 100m world record?", nil)

	// All three per-sample outcomes are reported.
	require.Len(t, result.ParallelRuns, 3)
	assert.Empty(t, result.ParallelRuns[0].Error)
	assert.NotEmpty(t, result.ParallelRuns[1].Error)
	assert.Empty(t, result.ParallelRuns[2].Error)

	// Only the two successes fed the synthesizer.
	require.Len(t, result.SynthesisInputs, 2)
	assert.NotEmpty(t, result.FinalSynthesizedAnswer)
	assert.Contains(t, synthesizer.lastUser, "Researcher 1")
	assert.Contains(t, synthesizer.lastUser, "Researcher 3")
	assert.NotContains(t, synthesizer.lastUser, "Researcher 2")
}

func TestTTS_AllSamplesFail(t *testing.T) {
	tts := NewTTSAgent(nil, nil, ttsTestConfig(2), "").
		WithRunnerFactory(func(index int, temperature float64) Runner {
			return &fakeRunner{panics: true}
		}).
		WithSynthesizer(&fakeSynthesizer{answer: "should not be called"})

	result := tts.Run(context.Background(), "q", nil)

	assert.Equal(t, "Synthesis failed: No research data available.", result.FinalSynthesizedAnswer)
	assert.Empty(t, result.SynthesisInputs)
	assert.Len(t, result.ParallelRuns, 2)
}

func TestTTS_TemperatureOffsets(t *testing.T) {
	var mu sync.Mutex
	temps := map[int]float64{}

	tts := NewTTSAgent(nil, nil, ttsTestConfig(3), "").
		WithRunnerFactory(func(index int, temperature float64) Runner {
			mu.Lock()
			temps[index] = temperature
			mu.Unlock()
			return &fakeRunner{result: &agent.Result{Prediction: "x", Termination: "answer found"}}
		}).
		WithSynthesizer(&fakeSynthesizer{answer: "ok"})

	tts.Run(context.Background(), "q", nil)

	assert.InDelta(t, 0.6, temps[0], 1e-9)
	assert.InDelta(t, 0.8, temps[1], 1e-9)
	assert.InDelta(t, 1.0, temps[2], 1e-9)
}

func TestTTS_EstimateCost(t *testing.T) {
	tts := NewTTSAgent(nil, nil, ttsTestConfig(3), "")
	msg := tts.EstimateCost(3)
	assert.Contains(t, msg, "3 agents")
	assert.Contains(t, msg, "3.5x")
}
