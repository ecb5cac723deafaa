// Package scaling implements the test-time-scaling agent: N parallel
// research loops with diversified sampling, then one synthesis call.
//
// This is an optional inference enhancement that trades cost (roughly
// (N + 0.5)x of a single run) for accuracy. Prefer the single research
// agent unless the question warrants it.
package scaling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
)

// temperatureStep is the per-sample offset applied to the base temperature
// to induce diverse exploration paths.
const temperatureStep = 0.2

// synthesisTemperature keeps the merge step stable.
const synthesisTemperature = 0.2

// Runner is one research loop; the default factory builds Researchers.
type Runner interface {
	Run(ctx context.Context, question string, progress agent.EventCallback) *agent.Result
}

// RunnerFactory builds the i-th sample's loop with its diversity-offset
// temperature.
type RunnerFactory func(index int, temperature float64) Runner

// SampleOutcome records one parallel sample, successful or not.
type SampleOutcome struct {
	Index  int           `json:"index"`
	Result *agent.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Result is the test-time-scaling output bundle.
type Result struct {
	Question               string          `json:"question"`
	FinalSynthesizedAnswer string          `json:"final_synthesized_answer"`
	ParallelRuns           []SampleOutcome `json:"parallel_runs"`
	SynthesisInputs        []SynthesisInput `json:"synthesis_inputs"`
}

// SynthesisInput is what each successful sample contributes to the
// synthesis prompt.
type SynthesisInput struct {
	Agent       int    `json:"agent"`
	Answer      string `json:"answer"`
	Report      string `json:"report"`
	Termination string `json:"termination"`
}

// TTSAgent fans out parallel research loops and synthesizes their
// findings.
type TTSAgent struct {
	provider     *llms.OpenAIProvider
	toolProvider agent.ToolProvider
	cfg          config.AgentConfig
	instruction  string

	// factory and synthesizer are replaceable for testing.
	factory     RunnerFactory
	synthesizer llms.Provider
}

func NewTTSAgent(provider *llms.OpenAIProvider, toolProvider agent.ToolProvider, cfg config.AgentConfig, instruction string) *TTSAgent {
	a := &TTSAgent{
		provider:     provider,
		toolProvider: toolProvider,
		cfg:          cfg,
		instruction:  instruction,
	}
	a.factory = a.defaultFactory
	return a
}

// WithRunnerFactory overrides sample construction (used in tests).
func (a *TTSAgent) WithRunnerFactory(factory RunnerFactory) *TTSAgent {
	a.factory = factory
	return a
}

// WithSynthesizer overrides the synthesis LLM (used in tests).
func (a *TTSAgent) WithSynthesizer(provider llms.Provider) *TTSAgent {
	a.synthesizer = provider
	return a
}

func (a *TTSAgent) defaultFactory(index int, temperature float64) Runner {
	sampleProvider := a.provider.CloneWithTemperature(temperature)
	dispatcher := agent.NewDispatcher(a.toolProvider)
	return agent.NewResearcher(sampleProvider, dispatcher, a.cfg, a.instruction, false)
}

// EstimateCost returns the advisory cost message printed before fan-out.
func (a *TTSAgent) EstimateCost(numAgents int) string {
	return fmt.Sprintf(
		"TTS cost estimation: parallel research %d agents x base cost, synthesis ~0.5x base cost, "+
			"total ~%.1fx of single-agent baseline. Use only for high-value scenarios.",
		numAgents, float64(numAgents)+0.5)
}

// Run executes both phases. Individual sample failures are isolated and
// reported; at least one successful sample is required to synthesize.
func (a *TTSAgent) Run(ctx context.Context, question string, progress agent.EventCallback) *Result {
	numAgents := a.cfg.TTSNumAgents
	slog.Warn(a.EstimateCost(numAgents))

	outcomes := a.runParallelResearch(ctx, question, numAgents, progress)

	var valid []SampleOutcome
	for _, outcome := range outcomes {
		if outcome.Error == "" && outcome.Result != nil {
			valid = append(valid, outcome)
		}
	}
	slog.Debug("Parallel research complete", "succeeded", len(valid), "total", numAgents)

	answer, inputs := a.runSynthesis(ctx, question, valid)

	return &Result{
		Question:               question,
		FinalSynthesizedAnswer: answer,
		ParallelRuns:           outcomes,
		SynthesisInputs:        inputs,
	}
}

func (a *TTSAgent) runParallelResearch(ctx context.Context, question string, numAgents int, progress agent.EventCallback) []SampleOutcome {
	baseTemp := 0.6
	if a.provider != nil {
		baseTemp = a.provider.Temperature()
	}

	outcomes := make([]SampleOutcome, numAgents)
	var wg sync.WaitGroup

	for i := 0; i < numAgents; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Sample agent panicked", "agent", index+1, "error", r)
					outcomes[index] = SampleOutcome{Index: index, Error: fmt.Sprintf("%v", r)}
				}
			}()

			temperature := baseTemp + float64(index)*temperatureStep
			slog.Debug("Launching sample agent", "agent", index+1, "temperature", temperature)

			runner := a.factory(index, temperature)
			result := runner.Run(ctx, question, progress)
			if result == nil {
				outcomes[index] = SampleOutcome{Index: index, Error: "sample returned no result"}
				return
			}
			outcomes[index] = SampleOutcome{Index: index, Result: result}
		}(i)
	}

	wg.Wait()
	return outcomes
}

func (a *TTSAgent) runSynthesis(ctx context.Context, question string, valid []SampleOutcome) (string, []SynthesisInput) {
	if len(valid) == 0 {
		slog.Error("No valid results from parallel research; cannot synthesize")
		return "Synthesis failed: No research data available.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Original Research Question]\n%s\n\n", question)
	b.WriteString("[Reports and answers from multiple parallel researchers]\n")

	var inputs []SynthesisInput
	for _, outcome := range valid {
		res := outcome.Result
		fmt.Fprintf(&b, "\n--- Researcher %d (status: %s) ---\n", outcome.Index+1, res.Termination)
		fmt.Fprintf(&b, "[Researcher %d answer]\n%s\n", outcome.Index+1, res.Prediction)
		fmt.Fprintf(&b, "[Researcher %d final report]\n%s\n", outcome.Index+1, res.Report)

		inputs = append(inputs, SynthesisInput{
			Agent:       outcome.Index + 1,
			Answer:      res.Prediction,
			Report:      res.Report,
			Termination: res.Termination,
		})
	}

	synthesisProvider := a.synthesizer
	if synthesisProvider == nil {
		synthesisProvider = a.provider.CloneWithTemperature(synthesisTemperature)
	}
	completion, err := synthesisProvider.Complete(ctx, []llms.Message{
		llms.System(agent.SynthesisSystemPrompt),
		llms.User(b.String()),
	}, llms.Options{})
	if err != nil {
		slog.Error("Synthesis call failed", "error", err)
		return "Synthesis failed: " + err.Error(), inputs
	}

	return strings.TrimSpace(completion.Content), inputs
}
